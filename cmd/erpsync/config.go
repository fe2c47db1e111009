package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/config"
)

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter erpsync.yaml",
	Long: `Write a starter configuration file with documented defaults and a
freshly generated device ID.

The file is written to the path given by --config (default erpsync.yaml in
the working directory). An existing file is never overwritten.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = "erpsync.yaml"
		}
		cfg, err := config.WriteStarter(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (device ID %s)\n", path, cfg.Device.ID)
		fmt.Println("Edit the branch, erp and cloud sections, then verify with 'erpsync check'")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Load the configuration the way 'erpsync run' would (file plus
ERPSYNC_* environment overrides) and print the effective values. Passwords
are not shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		fmt.Printf("Branch:    %d (%s)\n", cfg.Branch.ID, cfg.Branch.Name)
		fmt.Printf("Device:    %s\n", cfg.Device.ID)
		fmt.Printf("ERP:       %s@%s:%d/%s (pool %d)\n",
			cfg.ERP.User, cfg.ERP.Server, cfg.ERP.Port, cfg.ERP.Database, cfg.ERP.MaxPoolSize)
		fmt.Printf("Cloud:     %s\n", redactURL(cfg.Cloud.URL))
		fmt.Printf("Interval:  %s\n", cfg.Sync.Interval)
		fmt.Printf("Retention: %d days, max retries %d\n", cfg.Sync.RetentionDays, cfg.Sync.MaxRetries)
		fmt.Printf("Queue:     %s\n", cfg.Queue.Path)
		fmt.Printf("Log:       %s\n", cfg.Log.File)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
