package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getChunkCmd = &cobra.Command{
	Use:   "get-chunk <chunk-id>",
	Short: "Show one chunk's status and split lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		details, err := eng.GetChunkDetails(args[0])
		if err != nil {
			return err
		}
		c := details.Chunk
		fmt.Printf("id:       %s\n", c.ID)
		fmt.Printf("status:   %s\n", c.Status)
		fmt.Printf("progress: %d/%d\n", c.ProgressCompleted, c.ProgressTotal)
		fmt.Printf("parent:   %s\n", c.ParentID)
		fmt.Printf("attempt:  %d\n", c.Attempt)
		fmt.Printf("children: %v\n", details.Children)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <chunk-id>",
	Short: "Abort a chunk: kill its live scans or drop it from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()
		if err := eng.Kill(args[0]); err != nil {
			return err
		}
		fmt.Println("killed", args[0])
		return nil
	},
}

var splitCmd = &cobra.Command{
	Use:   "split <chunk-id> <n>",
	Short: "Decompose a chunk into n children",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parsePositiveInt(args[1])
		if err != nil {
			return err
		}

		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		childIDs, err := eng.Split(args[0], n)
		if err != nil {
			return err
		}
		for _, id := range childIDs {
			fmt.Println(id)
		}
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <chunk-id>",
	Short: "Reset a terminal chunk back to QUEUED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()
		if err := eng.Requeue(args[0]); err != nil {
			return err
		}
		fmt.Println("requeued", args[0])
		return nil
	},
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 1 {
		return 0, fmt.Errorf("scand: %q is not a positive integer", s)
	}
	return n, nil
}
