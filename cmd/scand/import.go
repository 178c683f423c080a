package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanord/engine/pkg/log"
	"github.com/scanord/engine/pkg/types"
)

var importCmd = &cobra.Command{
	Use:   "import <target-file>",
	Short: "Ingest a target list and run it to completion",
	Long: `Import reads a target list (one CIDR block, inclusive IP range, or
hostname per line), partitions it into chunks, and drives an embedded
scheduler until every resulting chunk reaches a terminal state or
--timeout elapses. SIGINT/SIGTERM trigger a graceful shutdown: the
scheduler's root context is cancelled, which cascades SIGTERM/SIGKILL to
every live scanner child process.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().Int("chunk-size", 0, "Addresses per chunk (default 256)")
	importCmd.Flags().Duration("timeout", 10*time.Minute, "Maximum time to wait for all chunks to finish")
}

func runImport(cmd *cobra.Command, args []string) error {
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Stop()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("scand: opening %s: %w", args[0], err)
	}
	defer f.Close()

	ids, total, err := eng.Import(f, chunkSize)
	if err != nil {
		return fmt.Errorf("scand: import failed: %w", err)
	}
	fmt.Printf("imported %d addresses into %d chunks\n", total, len(ids))
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	waitForTerminal(ctx, eng, ids)

	return printChunkSummary(eng, ids)
}

// waitForTerminal polls every id in ids until all have reached a
// terminal status or ctx is done. Polling rather than a completion
// channel matches the thinness the control surface asks of this
// entrypoint: a richer client (the out-of-scope REST/WebSocket layer)
// would instead subscribe to chunk_completed/chunk_failed/chunk_killed
// events via eng.Subscribe().
func waitForTerminal(ctx context.Context, eng interface {
	GetChunk(id string) (*types.Chunk, error)
}, ids []string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if allTerminal(eng, ids) {
				return
			}
		}
	}
}

func allTerminal(eng interface {
	GetChunk(id string) (*types.Chunk, error)
}, ids []string) bool {
	for _, id := range ids {
		c, err := eng.GetChunk(id)
		if err != nil {
			log.Errorf("checking chunk "+id, err)
			continue
		}
		switch c.Status {
		case types.ChunkCompleted, types.ChunkFailed, types.ChunkKilled:
		default:
			return false
		}
	}
	return true
}

func printChunkSummary(eng interface {
	GetChunk(id string) (*types.Chunk, error)
}, ids []string) error {
	for _, id := range ids {
		c, err := eng.GetChunk(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %-9s  %d/%d addresses\n", c.ID, c.Status, c.ProgressCompleted, c.ProgressTotal)
	}
	return nil
}
