// Package engine executes approved query bundles end to end: variant
// searches, merge, scoring, shortlisting, and detail enrichment, with one
// credit charged per run no matter how the run ends.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/bundle"
	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/corpus"
	"github.com/lattice-ip/priorart-engine/internal/cost"
	"github.com/lattice-ip/priorart-engine/internal/detail"
	"github.com/lattice-ip/priorart-engine/internal/merge"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/resilience"
	"github.com/lattice-ip/priorart-engine/internal/scoring"
	"github.com/lattice-ip/priorart-engine/internal/shortlist"
	"github.com/lattice-ip/priorart-engine/internal/store"
	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

// Option customizes an Engine, mainly for tests.
type Option func(*Engine)

// WithNow injects the clock used for hit timestamps.
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = fn }
}

// Engine drives a run through its phases. One Engine serves many runs;
// all of them share the process-wide rate limiter behind the client.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	client   serpapi.Client
	limiter  *ratelimit.Limiter
	resolver *corpus.Resolver
	fetcher  *detail.Fetcher
	retry    resilience.RetryConfig
	costs    *cost.Calculator
	nowFunc  func() time.Time
}

// New wires an Engine. The corpus resolver and detail fetcher are built
// here so every phase shares the same store, limiter, and retry policy.
func New(cfg *config.Config, st store.Store, client serpapi.Client, limiter *ratelimit.Limiter, opts ...Option) *Engine {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMS, cfg.Retry.MaxDelayMS, 0, cfg.Retry.JitterFactor)

	// Hand-built configs can leave pricing zeroed; bill those at the
	// default rates rather than estimating every run at $0.
	rates := cost.Rates{
		SearchPerCall: cfg.Pricing.SearchPerCall,
		DetailPerCall: cfg.Pricing.DetailPerCall,
	}
	if rates == (cost.Rates{}) {
		rates = cost.DefaultRates()
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		client:   client,
		limiter:  limiter,
		resolver: corpus.NewResolver(st, cfg.Corpus.PrefilterLimit),
		fetcher:  detail.New(st, client, limiter, retry, cfg.Detail),
		retry:    retry,
		costs:    cost.NewCalculator(rates),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one bundle to a terminal state and returns the terminal
// run row. Validation failures surface before any run row exists. For
// CREDIT_EXHAUSTED and FAILED outcomes the run is returned alongside the
// error that ended it.
func (e *Engine) Execute(ctx context.Context, b *bundle.Bundle) (*model.Run, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	// One run, one credit. The charge rides the insert and no later
	// state, exhaustion and failure included, revisits it.
	run, err := e.store.CreateRun(ctx, b.ID, b.Title, b.Hints, 1)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("bundle_id", b.ID))
	log.Info("engine: run created", zap.String("title", b.Title))

	// Lifecycle writes survive caller cancellation so a cancelled run
	// still lands in a terminal state on disk.
	storeCtx := context.WithoutCancel(ctx)

	current := run.Status
	advance := func(ev Event) error {
		next, terr := nextStatus(current, ev)
		if terr != nil {
			return terr
		}
		if err := e.store.SetRunStatus(storeCtx, run.ID, next); err != nil {
			return eris.Wrapf(err, "engine: enter %s", next)
		}
		current = next
		run.Status = next
		return nil
	}

	var warnings []string
	searchCalls, detailCalls := 0, 0
	finalize := func(ev Event, cause error) (*model.Run, error) {
		status, terr := nextStatus(current, ev)
		if terr != nil {
			log.Warn("engine: illegal terminal transition", zap.String("event", string(ev)), zap.Error(terr))
			status = model.RunStatusFailed
		}
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		estimate := e.costs.Run(searchCalls, detailCalls)
		if err := e.store.FinalizeRun(storeCtx, run.ID, status, warnings, msg, estimate); err != nil {
			log.Warn("engine: finalize run", zap.Error(err))
		}
		run.Status = status
		run.Warnings = warnings
		run.Error = msg
		run.CostEstimate = estimate
		log.Info("engine: run finished",
			zap.String("status", string(status)),
			zap.Int("search_calls", searchCalls),
			zap.Int("detail_calls", detailCalls),
			zap.Int("warnings", len(warnings)),
		)
		return run, cause
	}

	// Variant rows exist before any dispatch so an aborted run still
	// shows which variants never ran.
	variants := make([]model.QueryVariant, 0, len(b.Variants))
	for _, v := range b.Ordered() {
		variants = append(variants, model.QueryVariant{
			RunID:   run.ID,
			Label:   v.Label,
			Query:   v.Query,
			Count:   v.Count,
			Page:    v.Page,
			Outcome: model.VariantPending,
		})
	}
	if err := e.store.CreateVariants(storeCtx, variants); err != nil {
		return finalize(EventFail, eris.Wrap(err, "engine: create variants"))
	}

	if err := advance(EventDispatch); err != nil {
		return finalize(EventFail, err)
	}

	settled := e.runVariants(ctx, run.ID, variants)
	warnings = append(warnings, settled.warnings...)
	searchCalls = settled.searchCalls
	if settled.quotaErr != nil {
		return finalize(EventQuota, settled.quotaErr)
	}
	if ctx.Err() != nil {
		return finalize(EventFail, eris.Wrap(ctx.Err(), "engine: run cancelled"))
	}
	if settled.succeeded == 0 {
		return finalize(EventFail, eris.New("engine: all variants failed"))
	}

	// From MERGING on the run always finishes: remaining work is local
	// except the bounded detail fetches.
	ctx = storeCtx

	if err := advance(EventVariantsSettled); err != nil {
		return finalize(EventFail, err)
	}

	rows, err := e.computeScored(ctx, run.ID, b.Baseline(), b.Hints, run.StartedAt)
	if err != nil {
		return finalize(EventFail, err)
	}

	if err := advance(EventMergeDone); err != nil {
		return finalize(EventFail, err)
	}

	rows = shortlist.Apply(rows, e.cfg.Shortlist.K)
	if err := e.store.ReplaceUnifiedResults(ctx, run.ID, rows); err != nil {
		return finalize(EventFail, eris.Wrap(err, "engine: persist unified results"))
	}

	if err := advance(EventShortlistDone); err != nil {
		return finalize(EventFail, err)
	}

	dWarnings, dCalls, err := e.fetcher.Fetch(ctx, run.ID, shortlist.Selected(rows), b.DetailFields)
	warnings = append(warnings, dWarnings...)
	detailCalls = dCalls
	if err != nil {
		if resilience.IsQuota(err) {
			return finalize(EventQuota, err)
		}
		return finalize(EventFail, err)
	}

	if len(warnings) > 0 {
		return finalize(EventFinishWarn, nil)
	}
	return finalize(EventFinish, nil)
}

// Rescore recomputes merge, scoring, and shortlist for an existing run
// from its persisted hits. No provider calls are made and variant hits
// are untouched; shortlist overrides survive the rebuild. Rescoring a
// run twice yields identical rows.
func (e *Engine) Rescore(ctx context.Context, runID string) ([]model.UnifiedResult, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	variants, err := e.store.ListVariants(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list variants")
	}
	baseline := ""
	for _, v := range variants {
		if v.Label == model.VariantBaseline {
			baseline = v.Query
			break
		}
	}

	rows, err := e.computeScored(ctx, runID, baseline, run.Hints, run.StartedAt)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.ListUnifiedResults(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list unified results")
	}
	overrides := make(map[string]model.ShortlistOverride, len(existing))
	for _, r := range existing {
		if r.Override != model.OverrideNone {
			overrides[r.Identifier] = r.Override
		}
	}
	for i := range rows {
		rows[i].Override = overrides[rows[i].Identifier]
	}

	rows = shortlist.Apply(rows, e.cfg.Shortlist.K)
	if err := e.store.ReplaceUnifiedResults(ctx, runID, rows); err != nil {
		return nil, eris.Wrap(err, "engine: persist unified results")
	}

	zap.L().Info("engine: run rescored", zap.String("run_id", runID), zap.Int("rows", len(rows)))
	return rows, nil
}

// computeScored folds the run's hits into aggregates and scores every
// record, returning rows in final presentation order. The scorer clock is
// anchored at the run's start so recomputing later reproduces the same
// recency components.
func (e *Engine) computeScored(ctx context.Context, runID, baselineQuery string, hints []string, at time.Time) ([]model.UnifiedResult, error) {
	hits, err := e.store.ListVariantHits(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list variant hits")
	}

	aggs := merge.Collect(hits)
	scorer := scoring.New(e.cfg.Scoring, baselineQuery, hints, at)

	rows := make([]model.UnifiedResult, 0, len(aggs))
	pubDates := make(map[string]*time.Time, len(aggs))
	for id, agg := range aggs {
		rec, err := e.store.GetRecord(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: load record %s", id)
		}
		if rec == nil {
			// A hit without its canonical record is an invariant
			// violation, not a degradation.
			return nil, eris.Errorf("engine: variant hit references missing record %s", id)
		}
		row := scorer.Score(*rec, agg)
		row.RunID = runID
		rows = append(rows, row)
		pubDates[id] = rec.PublicationDate
	}

	scoring.Order(rows, pubDates)
	return rows, nil
}
