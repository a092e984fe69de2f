package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/detail"
	"github.com/lattice-ip/priorart-engine/internal/resilience"
	"github.com/lattice-ip/priorart-engine/internal/shortlist"
)

var detailsCmd = &cobra.Command{
	Use:   "details <run-id>",
	Short: "Fetch full document details for a run's shortlist",
	Long:  "Fetches claims, description, citations, legal events, and family for every shortlisted record that has no fresh detail. Useful after pinning changed the shortlist.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		env, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Store.ListUnifiedResults(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load results")
		}
		selected := shortlist.Selected(rows)
		if len(selected) == 0 {
			return eris.Errorf("run %s has no shortlisted results", runID)
		}

		retry := resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMS, cfg.Retry.MaxDelayMS, 0, cfg.Retry.JitterFactor)
		fetcher := detail.New(env.Store, env.Client, env.Limiter, retry, cfg.Detail)

		warnings, calls, err := fetcher.Fetch(ctx, runID, selected, cfg.Detail.Fields)
		if err != nil {
			return eris.Wrap(err, "fetch details")
		}

		zap.L().Info("details fetched",
			zap.String("run_id", runID),
			zap.Int("shortlisted", len(selected)),
			zap.Int("calls", calls),
			zap.Int("warnings", len(warnings)),
		)

		out := struct {
			RunID       string   `json:"run_id"`
			Shortlisted int      `json:"shortlisted"`
			Calls       int      `json:"calls"`
			Warnings    []string `json:"warnings,omitempty"`
		}{runID, len(selected), calls, warnings}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(detailsCmd)
}
