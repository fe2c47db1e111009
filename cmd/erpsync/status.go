package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show offline queue status",
	Long: `Display the state of the local offline queue.

Shows:
  - Queue file location and size
  - Pending records waiting for connectivity
  - Records abandoned after exhausting their retries
  - Synced records awaiting pruning`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		info, err := os.Stat(cfg.Queue.Path)
		if os.IsNotExist(err) {
			fmt.Println("Offline queue not created yet (agent has not run)")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking queue: %v\n", err)
			os.Exit(1)
		}

		q, err := queue.Open(cfg.Queue.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening queue: %v\n", err)
			os.Exit(1)
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stats, err := q.Stats(ctx, cfg.Sync.MaxRetries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue stats: %v\n", err)
			os.Exit(1)
		}

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\nOffline Queue Status\n\n")
		fmt.Printf("Location:  %s\n", cfg.Queue.Path)
		fmt.Printf("Size:      %s\n", sizeStr)
		fmt.Printf("Pending:   %d\n", stats.Pending)
		fmt.Printf("Abandoned: %d\n", stats.Abandoned)
		fmt.Printf("Synced:    %d (pruned after %d days)\n", stats.Synced, cfg.Sync.RetentionDays)
		if stats.OldestPending != "" {
			fmt.Printf("Oldest pending: %s\n", stats.OldestPending)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
