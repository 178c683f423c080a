package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanord/engine/pkg/types"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or update the scanner Settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current Settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()
		printSettings(eng.CurrentSettings())
		return nil
	},
}

var settingsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print every accepted Settings version",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Stop()

		history, err := eng.SettingsHistory()
		if err != nil {
			return err
		}
		for _, s := range history {
			printSettings(s)
			fmt.Println("---")
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Apply a patch to the current Settings",
	RunE:  runSettingsSet,
}

func init() {
	settingsSetCmd.Flags().Int("max-workers", 0, "Maximum concurrent RUNNING chunks (0 = unchanged)")
	settingsSetCmd.Flags().Int("per-host-workers", 0, "Maximum concurrent host scans per chunk (0 = unchanged)")
	settingsSetCmd.Flags().Int("host-timeout-sec", 0, "Per-host scan wall-clock bound (0 = unchanged)")
	settingsSetCmd.Flags().String("profile", "", "Timing profile: fast, balanced, thorough")
	settingsSetCmd.Flags().String("scan-type", "", "nmap scan type flag, e.g. sS")
	settingsSetCmd.Flags().String("ports", "", "Port selection, e.g. top-1000 or 1-65535")
	settingsSetCmd.Flags().String("extra-args", "", "Additional raw nmap arguments")
	settingsSetCmd.Flags().Int("quarantine-after-failures", 0, "Failures before an address is quarantined (0 = unchanged)")

	settingsCmd.AddCommand(settingsShowCmd, settingsHistoryCmd, settingsSetCmd)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Stop()

	next := eng.CurrentSettings()
	applyIntFlag(cmd, "max-workers", &next.MaxWorkers)
	applyIntFlag(cmd, "per-host-workers", &next.PerHostWorkers)
	applyIntFlag(cmd, "host-timeout-sec", &next.HostTimeoutSec)
	applyIntFlag(cmd, "quarantine-after-failures", &next.QuarantineAfterFailures)

	if v, _ := cmd.Flags().GetString("profile"); v != "" {
		next.Profile = types.Profile(v)
	}
	if v, _ := cmd.Flags().GetString("scan-type"); v != "" {
		next.ScanType = v
	}
	if v, _ := cmd.Flags().GetString("ports"); v != "" {
		next.Ports = v
	}
	if cmd.Flags().Changed("extra-args") {
		next.ExtraArgs, _ = cmd.Flags().GetString("extra-args")
	}

	updated, err := eng.UpdateSettings(next)
	if err != nil {
		return err
	}
	printSettings(updated)
	return nil
}

func applyIntFlag(cmd *cobra.Command, name string, dest *int) {
	if v, _ := cmd.Flags().GetInt(name); v != 0 {
		*dest = v
	}
}

func printSettings(s types.Settings) {
	fmt.Printf("version:                   %d\n", s.Version)
	fmt.Printf("max_workers:               %d\n", s.MaxWorkers)
	fmt.Printf("per_host_workers:          %d\n", s.PerHostWorkers)
	fmt.Printf("host_timeout_sec:          %d\n", s.HostTimeoutSec)
	fmt.Printf("chunk_timeout_sec:         %d\n", s.ChunkTimeoutSec)
	fmt.Printf("profile:                   %s\n", s.Profile)
	fmt.Printf("scan_type:                 %s\n", s.ScanType)
	fmt.Printf("ports:                     %s\n", s.Ports)
	fmt.Printf("extra_args:                %s\n", s.ExtraArgs)
	fmt.Printf("quarantine_after_failures: %d\n", s.QuarantineAfterFailures)
}
