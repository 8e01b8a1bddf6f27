package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vitos/alpha_monitor/internal/infrastructure/feedclient"
	"github.com/vitos/alpha_monitor/internal/infrastructure/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail the live stream of a running monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.NewConsoleLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer log.Sync()

		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			url = fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port)
		}
		ping, _ := cmd.Flags().GetDuration("ping")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := feedclient.New(feedclient.Config{URL: url, PingInterval: ping}, printMessage, log)
		return client.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().String("url", "", "stream URL (default ws://localhost:<server.port>/ws)")
	watchCmd.Flags().Duration("ping", feedclient.DefaultPingInterval, "keep-alive ping interval")
}

type streamAsset struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

func printMessage(m feedclient.Message) {
	ts := m.Timestamp.Format("15:04:05")
	switch m.Type {
	case "initial_data", "data_update":
		var assets []streamAsset
		if err := json.Unmarshal(m.Data, &assets); err != nil {
			fmt.Printf("%s %s (undecodable: %v)\n", ts, m.Type, err)
			return
		}
		fmt.Printf("%s %s: %d assets\n", ts, m.Type, len(assets))
	case "new_coin", "new_futures":
		var a streamAsset
		_ = json.Unmarshal(m.Data, &a)
		price := "n/a"
		if a.Price != nil {
			price = fmt.Sprintf("%g", *a.Price)
		}
		fmt.Printf("%s %s: %s price=%s\n", ts, m.Type, a.Symbol, price)
	case "pong":
	default:
		fmt.Printf("%s %s\n", ts, m.Type)
	}
}
