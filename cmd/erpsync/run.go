package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/agent"
	"github.com/aquraretail/erpsync/internal/cloud"
	"github.com/aquraretail/erpsync/internal/config"
	"github.com/aquraretail/erpsync/internal/erp"
	"github.com/aquraretail/erpsync/internal/queue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync agent (foreground)",
	Long: `Run the sync agent in the foreground until interrupted.

On every interval the agent:
  1. Checks cloud connectivity; a restored connection drains the offline queue
  2. Aggregates today's sales from the ERP and upserts them to the cloud
  3. Does the same for yesterday, catching invoices posted after midnight
  4. Prunes synced queue records past the retention window

Stop with Ctrl+C; in-flight work finishes before the agent exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, loader := loadConfig()
		em := newEmitter(cfg)
		defer em.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q, err := queue.Open(cfg.Queue.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening offline queue: %v\n", err)
			os.Exit(1)
		}
		defer q.Close()

		src, err := erp.Open(cfg.ERP, cfg.Branch.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to ERP: %v\n", err)
			os.Exit(1)
		}
		defer src.Close()

		store, err := cloud.Connect(ctx, cfg.Cloud.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error configuring cloud store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		// Best effort: the agent must start even when the cloud is down,
		// registration is retried on the next start.
		if err := store.RegisterConnection(ctx, connectionProfile(cfg)); err != nil {
			em.Warnf("connection registration failed (will sync anyway): %v", err)
		} else {
			em.Infof("registered branch %d device %s with cloud store", cfg.Branch.ID, cfg.Device.ID)
		}

		ag := agent.New(agent.Config{
			BranchID:      cfg.Branch.ID,
			Interval:      cfg.Sync.Interval,
			RetentionDays: cfg.Sync.RetentionDays,
			MaxRetries:    cfg.Sync.MaxRetries,
		}, src, store, q, em)

		loader.Watch(func(next *config.Config, err error) {
			if err != nil {
				em.Warnf("config reload failed, keeping current settings: %v", err)
				return
			}
			ag.SetInterval(next.Sync.Interval)
			em.Infof("config reloaded, sync interval now %s", next.Sync.Interval)
		})

		em.Infof("sync agent started: branch %d (%s), interval %s, queue %s",
			cfg.Branch.ID, cfg.Branch.Name, cfg.Sync.Interval, cfg.Queue.Path)

		if err := ag.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Agent stopped with error: %v\n", err)
			os.Exit(1)
		}
		em.Infof("sync agent stopped")
	},
}

func connectionProfile(cfg *config.Config) cloud.ConnectionProfile {
	return cloud.ConnectionProfile{
		BranchID:   cfg.Branch.ID,
		BranchName: cfg.Branch.Name,
		DeviceID:   cfg.Device.ID,
		ServerIP:   cfg.ERP.Server,
		Database:   cfg.ERP.Database,
		Username:   cfg.ERP.User,
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
