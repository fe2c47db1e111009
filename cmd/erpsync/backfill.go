package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/agent"
	"github.com/aquraretail/erpsync/internal/cloud"
	"github.com/aquraretail/erpsync/internal/erp"
	"github.com/aquraretail/erpsync/internal/queue"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Sync the ERP's full transaction history to the cloud",
	Long: `Walk every date between the first and last invoice in the ERP and
upsert each day's aggregate to the cloud store.

Backfill is a one-off operation for new installations or after extended
outages. Days that fail to extract are reported and skipped; re-running
backfill is safe because each day is an idempotent upsert.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()
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

		ag := agent.New(agent.Config{
			BranchID:      cfg.Branch.ID,
			Interval:      cfg.Sync.Interval,
			RetentionDays: cfg.Sync.RetentionDays,
			MaxRetries:    cfg.Sync.MaxRetries,
		}, src, store, q, em)

		res, err := ag.Backfill(ctx)
		if err != nil {
			if errors.Is(err, erp.ErrNoData) {
				fmt.Println("No invoices found in the ERP, nothing to backfill")
				return
			}
			fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
			if res != nil {
				fmt.Fprintf(os.Stderr, "Partial progress: %d of %d days extracted\n", res.Extracted, res.Days)
			}
			os.Exit(1)
		}

		fmt.Printf("\nBackfill complete: %s to %s\n", res.First, res.Last)
		fmt.Printf("  Days:      %d\n", res.Days)
		fmt.Printf("  Extracted: %d\n", res.Extracted)
		if res.Failed > 0 {
			fmt.Printf("  Failed:    %d (re-run backfill to retry)\n", res.Failed)
		}
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
