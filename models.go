package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llm_fanout/backend"
	"llm_fanout/registry"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models that would be registered",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		reg := registry.New(backend.NewOllamaBackend(cfg.Backend.Endpoint, logger),
			registry.WithLogger(logger),
			registry.WithDiscoveryTimeout(cfg.DiscoveryTimeout()),
		)
		snapshot := reg.Refresh(cmd.Context())

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFULL NAME\tPROVIDER")
		for _, m := range snapshot {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.FullName, m.Provider)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("json", false, "Print the registry snapshot as JSON")
}
