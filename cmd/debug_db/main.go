package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
	"github.com/vitos/alpha_monitor/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "alpha_monitor.db", "sqlite database path")
	runs := flag.Int("runs", 5, "number of collection runs to show")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	snap, err := store.GetAllAssets(ctx)
	if err != nil {
		fmt.Printf("Failed to list assets: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d assets:\n", len(snap))
	for _, r := range snap.Records() {
		flags := ""
		if r.Synthetic {
			flags = " (synthetic)"
		}
		fmt.Printf("- %s %s: price=%s mcap=%s%s\n", r.Symbol, r.Name, num(r.Price), num(r.MarketCap), flags)
		if r.IsListed() {
			fmt.Printf("  ✅ Perpetual: price=%s oi=%s spread=%s\n",
				num(r.Derivative.Price), num(r.Derivative.OpenInterest), num(r.Derivative.Spread))
		}
	}

	stats, err := store.GetStats(ctx, time.Now())
	if err != nil {
		fmt.Printf("❌ Failed to get stats: %v\n", err)
	} else {
		fmt.Printf("\nStats: total=%d listed=%d new_today=%d new_week=%d avg_mcap=%.0f volume=%.0f\n",
			stats.TotalAssets, stats.DerivativesListed, stats.NewToday, stats.NewThisWeek,
			stats.AvgMarketCap, stats.TotalVolume24h)
	}

	history, err := store.ListRuns(ctx, *runs)
	if err != nil {
		fmt.Printf("❌ Failed to list runs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %d runs:\n", len(history))
	for _, run := range history {
		mark := "✅"
		if run.Status != domain.RunSuccess {
			mark = "❌"
		}
		fmt.Printf("%s %s %s records=%d duration=%s %s\n",
			mark, run.StartedAt.Format(time.RFC3339), run.Status, run.RecordsProcessed, run.Duration, run.Error)
	}
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
