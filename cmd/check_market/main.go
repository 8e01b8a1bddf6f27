package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/alpha_monitor/internal/config"
	"github.com/vitos/alpha_monitor/internal/infrastructure/exchange"
	"github.com/vitos/alpha_monitor/internal/infrastructure/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	limit := flag.Int("n", 5, "number of universe assets to check")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewConsoleLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client := exchange.NewBinanceClient(
		exchange.WithEndpoints(cfg.Market.SpotURL, cfg.Market.FuturesURL, cfg.Market.AlphaURL),
		exchange.WithTimeout(cfg.Market.Timeout),
		exchange.WithLogger(log),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 2. Asset universe
	fmt.Printf("Testing market data client...\n")
	universe, err := client.ListAssetUniverse(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to list universe: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Universe: %d assets\n", len(universe))

	symbols := []string{"BTC"}
	for i := 0; i < len(universe) && i < *limit; i++ {
		symbols = append(symbols, universe[i].Symbol)
	}

	// 3. Per-asset endpoints
	for _, symbol := range symbols {
		fmt.Printf("- %s\n", symbol)

		ticker, err := client.GetTicker(ctx, symbol)
		switch {
		case err != nil:
			fmt.Printf("  ❌ Ticker: %v\n", err)
		case ticker == nil:
			fmt.Printf("  ⚠️ No spot ticker\n")
		default:
			fmt.Printf("  ✅ Ticker: price=%g volume=%g change=%.2f%%\n",
				ticker.LastPrice, ticker.Volume24h, ticker.PercentChange24h)
		}

		deriv, err := client.GetDerivativeStatus(ctx, symbol)
		switch {
		case err != nil:
			fmt.Printf("  ❌ Derivative: %v\n", err)
		case deriv == nil || !deriv.Listed:
			fmt.Printf("  ⚠️ No perpetual listed\n")
			continue
		default:
			listed := "unknown"
			if deriv.ListedAt != nil {
				listed = deriv.ListedAt.Format(time.DateOnly)
			}
			fmt.Printf("  ✅ Perpetual listed since %s\n", listed)
		}

		oi, err := client.GetOpenInterest(ctx, symbol)
		switch {
		case err != nil:
			fmt.Printf("  ❌ Open interest: %v\n", err)
		case oi == nil:
			fmt.Printf("  ⚠️ No open interest\n")
		default:
			fmt.Printf("  ✅ Open interest: %g contracts\n", *oi)
		}
	}
}
