package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanord/engine/pkg/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List chunks known to this engine instance",
	Long: `List prints every chunk currently registered in this process's chunk
store. Since the chunk registry is in-memory only (§1 Non-goals: no
historical persistence), this is chiefly useful against a scand instance
that is still running its own "import" or "serve" invocation in the same
process lifetime, or for inspecting state immediately after an import
before the process exits.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().String("status", "", "Filter by status (QUEUED, RUNNING, COMPLETED, FAILED, KILLED)")
	listCmd.Flags().Int("limit", 0, "Maximum number of chunks to print")
	listCmd.Flags().Int("offset", 0, "Number of chunks to skip")
}

func runList(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Stop()

	var status *types.ChunkStatus
	if statusFlag != "" {
		s := types.ChunkStatus(statusFlag)
		status = &s
	}

	chunks, total := eng.ListChunks(status, limit, offset)
	fmt.Printf("%d of %d chunks\n", len(chunks), total)
	for _, c := range chunks {
		fmt.Printf("%s  %-9s  %d/%d addresses  parent=%s attempt=%d\n",
			c.ID, c.Status, c.ProgressCompleted, c.ProgressTotal, c.ParentID, c.Attempt)
	}
	return nil
}
