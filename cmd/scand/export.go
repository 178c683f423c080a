package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a consolidated report over every stored artifact",
	Long: `Export streams every artifact under --state-dir through the result
parser and prints a JSON report: the full per-address host record
(--format json, the default) or a cheap {status, open_port_count}
summary projection (--format summary).`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("format", "json", "Export format: json or summary")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Stop()

	report, err := eng.Export(format)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
