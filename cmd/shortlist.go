package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/normalize"
	"github.com/lattice-ip/priorart-engine/internal/shortlist"
)

var shortlistCmd = &cobra.Command{
	Use:   "shortlist",
	Short: "Inspect and adjust run shortlists",
	Long:  "Shortlist membership is recomputed on every rescore; pin and drop set sticky overrides that survive recomputation.",
}

var shortlistPinCmd = &cobra.Command{
	Use:   "pin <run-id> <identifier>",
	Short: "Force a record into the shortlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setOverride(cmd.Context(), args[0], args[1], model.OverrideForceIn)
	},
}

var shortlistDropCmd = &cobra.Command{
	Use:   "drop <run-id> <identifier>",
	Short: "Force a record out of the shortlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setOverride(cmd.Context(), args[0], args[1], model.OverrideForceOut)
	},
}

var shortlistShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the current shortlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rows, err := st.ListUnifiedResults(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "shortlist show")
		}
		selected := shortlist.Selected(rows)
		if len(selected) == 0 {
			fmt.Fprintln(os.Stderr, "Shortlist is empty.")
			return nil
		}

		formatResults(os.Stdout, selected)
		return nil
	},
}

// setOverride records the sticky override and reruns merge/score/shortlist
// so the change takes effect immediately.
func setOverride(ctx context.Context, runID, identifier string, ov model.ShortlistOverride) error {
	id := normalize.ID(identifier)
	if id == "" {
		return eris.Errorf("unusable identifier %q", identifier)
	}

	env, err := initEngine(ctx, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SetShortlistOverride(ctx, runID, id, ov); err != nil {
		return eris.Wrap(err, "set override")
	}
	rows, err := env.Engine.Rescore(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "rescore after override")
	}

	zap.L().Info("shortlist override applied",
		zap.String("run_id", runID),
		zap.String("identifier", id),
		zap.String("override", string(ov)),
	)

	formatResults(os.Stdout, shortlist.Selected(rows))
	return nil
}

// formatResults writes a tabular view of unified result rows to w.
func formatResults(out io.Writer, rows []model.UnifiedResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POS\tIDENTIFIER\tSCORE\tCLASS\tSHORTLIST\tOVERRIDE")
	_, _ = fmt.Fprintln(w, "---\t----------\t-----\t-----\t---------\t--------")

	for _, r := range rows {
		mark := ""
		if r.Shortlisted {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.4f\t%s\t%s\t%s\n",
			r.Position, r.Identifier, r.Score, r.Intersection, mark, r.Override)
	}
	_ = w.Flush()
}

func init() {
	shortlistCmd.AddCommand(shortlistPinCmd)
	shortlistCmd.AddCommand(shortlistDropCmd)
	shortlistCmd.AddCommand(shortlistShowCmd)
	rootCmd.AddCommand(shortlistCmd)
}
