package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect search run history",
	Long:  "Commands for listing, viewing, and summarizing search runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		bundleID, _ := cmd.Flags().GetString("bundle")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:   model.RunStatus(status),
			BundleID: bundleID,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its variants and warnings",
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

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		variants, err := st.ListVariants(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show variants")
		}

		out := struct {
			Run      *model.Run           `json:"run"`
			Variants []model.QueryVariant `json:"variants"`
		}{run, variants}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.RunStats(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, stats, cfg.RateLimit)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (COMPLETED, FAILED, CREDIT_EXHAUSTED, ...)")
	runsListCmd.Flags().String("bundle", "", "filter by bundle ID")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBUNDLE\tSTATUS\tCALLS\tCOST\tWARN\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t----\t----\t-------\t--------")

	for _, r := range runs {
		title := r.BundleTitle
		if title == "" {
			title = r.BundleID
		}
		if len(title) > 30 {
			title = title[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.3f\t%d\t%s\t%s\n",
			truncateID(r.ID),
			title,
			r.Status,
			r.ExternalCalls,
			r.CostEstimate,
			len(r.Warnings),
			r.CreatedAt.Format("2006-01-02 15:04"),
			runDuration(r),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats plus the configured call spacing.
func formatRunStats(out io.Writer, s *model.RunStats, rl config.RateLimitConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.TotalRuns)

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[st])
	}

	_, _ = fmt.Fprintf(w, "External calls:\t%d\n", s.ExternalCalls)
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.2f\n", s.TotalCost)
	_, _ = fmt.Fprintf(w, "Corpus records:\t%d\n", s.Records)
	_, _ = fmt.Fprintf(w, "Document details:\t%d\n", s.Details)
	_, _ = fmt.Fprintf(w, "Call spacing:\tsearch %ds, detail %ds\n",
		rl.SearchIntervalSecs, rl.DetailIntervalSecs)
	_ = w.Flush()
}

// runDuration renders the wall time of a finished run, "-" while running.
func runDuration(r model.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
