package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"llm_fanout/backend"
	"llm_fanout/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the Ollama host is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ollama := backend.NewOllamaBackend(cfg.Backend.Endpoint, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.DiscoveryTimeout())
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Checking Ollama at %s...\n", ollama.Endpoint())
		tags, err := ollama.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("cannot connect to Ollama API: %w", err)
		}
		fmt.Fprintf(out, "API accessible - %d models found\n", len(tags.Models))
		for _, m := range registry.Build(tags) {
			fmt.Fprintf(out, "  %-20s %s\n", m.Name, m.FullName)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
