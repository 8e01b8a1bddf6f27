package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/alpha_monitor/internal/infrastructure/logger"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single collection cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.NewConsoleLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		run, err := a.collector.RunCycle(ctx)
		if run != nil {
			fmt.Printf("Run %s: %s, %d records in %s\n",
				run.ID, run.Status, run.RecordsProcessed, run.Duration.Round(time.Millisecond))
		}
		if err != nil {
			return fmt.Errorf("collection failed: %w", err)
		}

		prune, _ := cmd.Flags().GetBool("prune")
		if prune {
			n, err := a.retention.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d price history rows\n", n)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().Bool("prune", false, "also prune price history past the retention window")
}
