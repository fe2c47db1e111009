package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquraretail/erpsync/internal/cloud"
	"github.com/aquraretail/erpsync/internal/erp"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify ERP and cloud connectivity",
	Long: `Probe both ends of the sync pipeline and report the result.

Useful after editing the config or during installation to confirm the
SQL Server credentials and the cloud connection string before starting
the agent.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		failed := false

		fmt.Printf("ERP (%s:%d/%s): ", cfg.ERP.Server, cfg.ERP.Port, cfg.ERP.Database)
		if src, err := erp.Open(cfg.ERP, cfg.Branch.ID); err != nil {
			fmt.Printf("FAIL\n  %v\n", err)
			failed = true
		} else {
			first, last, rangeErr := src.DateRange(ctx)
			switch {
			case rangeErr == nil:
				fmt.Printf("ok (invoices %s to %s)\n", first, last)
			default:
				fmt.Println("ok (no invoices yet)")
			}
			src.Close()
		}

		fmt.Print("Cloud store: ")
		if store, err := cloud.Connect(ctx, cfg.Cloud.URL); err != nil {
			fmt.Printf("FAIL\n  %v\n", err)
			failed = true
		} else {
			if err := store.Check(ctx); err != nil {
				fmt.Printf("FAIL\n  %v\n", err)
				failed = true
			} else {
				fmt.Println("ok")
			}
			store.Close()
		}

		if failed {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
