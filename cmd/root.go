package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "priorart",
	Short: "Prior-art search execution and ranking engine",
	Long:  "Executes approved query bundles against the patent search provider, merges the three variant result sets by intersection consensus, ranks and shortlists candidates, and fetches full document details for the shortlist.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
