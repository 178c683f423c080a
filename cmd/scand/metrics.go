package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the control surface's summary counters",
	Long: `Prints the engine's own {running, queued, chunks} summary tuple. For
the full Prometheus time-series surface, run "scand serve" and scrape
its /metrics endpoint instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		m := eng.Metrics()
		fmt.Printf("running: %d\n", m.Running)
		fmt.Printf("queued:  %d\n", m.Queued)
		fmt.Printf("chunks:  %d\n", m.Chunks)
		return nil
	},
}
