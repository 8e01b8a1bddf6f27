package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitos/alpha_monitor/internal/config"
)

// Global config, loaded before any subcommand runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Alpha asset monitor: collector, broker and live stream",
	Long: `Collects the alpha asset universe on a schedule, reconciles it with the
stored snapshot, persists the result and streams changes to subscribers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.LoadEnv(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}

		configFile, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.LoadAndValidate(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "config/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("env-file", ".env", "optional .env file loaded before the config")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(watchCmd)
}
