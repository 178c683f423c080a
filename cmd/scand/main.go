// Command scand is the administrative entrypoint for the scan scheduler
// and execution engine: the thinnest possible driver over an embedded
// engine.Engine, following the teacher's cmd/warren convention of a
// spf13/cobra root command with persistent logging/state flags. It does
// not project the Control API as a network service (that REST/WebSocket
// layer is an external collaborator's responsibility, §1) — each
// subcommand below operates against a freshly constructed engine for
// the lifetime of that single process invocation. Settings persist
// across invocations via pkg/settingsstore; written scan artifacts
// persist via pkg/artifact; the in-memory chunk registry does not, by
// design (the core does not persist historical metrics, §1 Non-goals).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scanord/engine/pkg/engine"
	"github.com/scanord/engine/pkg/log"
	"github.com/scanord/engine/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "scand",
	Short:   "scand - bulk nmap scan scheduler and execution engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scand version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("state-dir", "./scand-data", "Directory for persisted settings and scan artifacts")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML file providing initial Settings defaults")
	rootCmd.PersistentFlags().String("scanner-bin", "nmap", "Scanner binary invoked for each host")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getChunkCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// newEngine constructs an engine.Engine from the root command's
// persistent flags: state directory, scanner binary, and, if --config
// was given, a YAML-loaded Settings defaults file layered under
// types.DefaultSettings().
func newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	stateDir, _ := cmd.Flags().GetString("state-dir")
	scannerBin, _ := cmd.Flags().GetString("scanner-bin")
	configPath, _ := cmd.Flags().GetString("config")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("scand: creating state dir %s: %w", stateDir, err)
	}

	defaults := types.DefaultSettings()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("scand: reading config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &defaults); err != nil {
			return nil, fmt.Errorf("scand: parsing config %s: %w", configPath, err)
		}
	}

	return engine.New(engine.Config{
		StateDir:        stateDir,
		ScannerBinary:   scannerBin,
		DefaultSettings: defaults,
	})
}
