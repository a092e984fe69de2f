package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/bundle"
	"github.com/lattice-ip/priorart-engine/pkg/notion"
)

var (
	runBundlePath string
	runBundleID   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an approved query bundle",
	Long:  "Loads a bundle from a YAML file or the Notion registry, runs its three variants to a terminal state, and prints the finished run as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		b, err := loadBundle(ctx)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		run, execErr := env.Engine.Execute(ctx, b)
		if run != nil {
			zap.L().Info("run finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("external_calls", run.ExternalCalls),
				zap.Float64("cost_estimate", run.CostEstimate),
				zap.Int("warnings", len(run.Warnings)),
			)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return eris.Wrap(err, "encode run")
			}
		}
		if execErr != nil {
			return eris.Wrap(execErr, "run bundle")
		}
		return nil
	},
}

// loadBundle reads the bundle named by the flags: a local YAML file, or an
// approved entry in the Notion registry.
func loadBundle(ctx context.Context) (*bundle.Bundle, error) {
	switch {
	case runBundlePath != "":
		return bundle.LoadFile(runBundlePath)
	case runBundleID != "":
		if cfg.Notion.Token == "" || cfg.Notion.BundleDB == "" {
			return nil, eris.New("notion token and bundle DB are required (PRIORART_NOTION_TOKEN, PRIORART_NOTION_BUNDLE_DB)")
		}
		client := notion.NewClient(cfg.Notion.Token)
		bundles, err := bundle.LoadRegistry(ctx, client, cfg.Notion.BundleDB)
		if err != nil {
			return nil, err
		}
		for i := range bundles {
			if bundles[i].ID == runBundleID {
				return &bundles[i], nil
			}
		}
		return nil, eris.Errorf("bundle %s not in the approved registry", runBundleID)
	default:
		return nil, eris.New("either --bundle or --bundle-id is required")
	}
}

func init() {
	runCmd.Flags().StringVar(&runBundlePath, "bundle", "", "path to a bundle YAML file")
	runCmd.Flags().StringVar(&runBundleID, "bundle-id", "", "bundle ID in the Notion registry")
	rootCmd.AddCommand(runCmd)
}
