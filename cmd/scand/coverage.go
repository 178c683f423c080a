package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Print the address coverage snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		cov := eng.Coverage()
		fmt.Printf("total:     %d\n", cov.Total)
		fmt.Printf("completed: %d\n", cov.Completed)
		fmt.Printf("failed:    %d\n", cov.Failed)
		fmt.Printf("pending:   %d\n", cov.Pending)
		fmt.Printf("killed:    %d\n", cov.Killed)
		return nil
	},
}
