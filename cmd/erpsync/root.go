package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/config"
	"github.com/aquraretail/erpsync/internal/events"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "erpsync",
	Short: "Branch ERP to cloud sales sync agent",
	Long: `erpsync mirrors daily sales aggregates from a branch's on-premise ERP
(SQL Server) into the central cloud store (Postgres).

The agent runs a short sync cycle on an interval: it aggregates today's and
yesterday's invoices from the ERP, upserts them to the cloud, and falls back
to a local durable queue whenever the cloud is unreachable. Queued days are
replayed automatically as soon as connectivity returns.

Start with 'erpsync config init' to write a starter configuration, then run
the agent with 'erpsync run'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default erpsync.yaml in the working directory)")
}

// loadConfig reads the configuration and exits on failure. Commands that
// cannot do anything useful without a valid config use this instead of
// threading errors up through cobra.
func loadConfig() (*config.Config, *config.Loader) {
	cfg, loader, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'erpsync config init' to create a starter config\n")
		os.Exit(1)
	}
	return cfg, loader
}

// newEmitter builds the structured logger from the config and wraps it in
// the event emitter the agent reports through.
func newEmitter(cfg *config.Config) *events.Emitter {
	logger := events.NewLogger(events.LogConfig{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cfg.Log.Console,
	})
	return events.NewEmitter(logger)
}
