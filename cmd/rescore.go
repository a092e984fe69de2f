package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/shortlist"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore <run-id>",
	Short: "Recompute a run's merged results without provider calls",
	Long:  "Rebuilds the unified result set from the run's persisted variant hits: merge, score, order, and shortlist. Manual shortlist overrides survive. No external calls are made.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Engine.Rescore(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "rescore")
		}

		zap.L().Info("rescore complete",
			zap.String("run_id", args[0]),
			zap.Int("rows", len(rows)),
			zap.Int("shortlisted", len(shortlist.Selected(rows))),
		)

		formatResults(os.Stdout, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescoreCmd)
}
