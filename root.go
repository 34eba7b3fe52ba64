package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"llm_fanout/config"
	"llm_fanout/logging"
)

var rootCmd = &cobra.Command{
	Use:   "llm_fanout",
	Short: "Fan one question out to every local Ollama model",
	Long: `llm_fanout sends a question to every model discovered on an Ollama host and
streams each model's answer back over a WebSocket, in parallel, sequential or batch mode.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.toml", "Path to configuration file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// loadConfig loads the configuration named by --config and applies --verbose
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Server.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Server.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(level)
	slog.SetDefault(logger)
	return logger
}
