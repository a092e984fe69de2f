package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-ip/priorart-engine/internal/corpus"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/normalize"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/resilience"
	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

// localEndpoint tags raw snapshots answered by the corpus instead of the
// provider.
const localEndpoint = "local"

// variantSummary aggregates what the variant workers produced.
type variantSummary struct {
	warnings    []string
	searchCalls int
	succeeded   int
	quotaErr    error
}

// variantResult is one variant's execution outcome.
type variantResult struct {
	calls        int
	localHits    int
	providerHits int
	source       model.HitSource
	warnings     []string
}

// runVariants executes the run's variants with bounded parallelism.
// Cancellation and quota exhaustion are honored at dispatch boundaries: a
// variant that has started runs to completion on a context severed from
// the caller, and a variant that has not started yet keeps its pending
// outcome. Quota exhaustion additionally cancels the severed context so
// dispatched variants stop waiting for rate-limit slots.
func (e *Engine) runVariants(ctx context.Context, runID string, variants []model.QueryVariant) variantSummary {
	var (
		out   variantSummary
		mu    sync.Mutex
		quota atomic.Bool
	)

	parallel := e.cfg.Engine.VariantParallelism
	if parallel < 1 {
		parallel = 1
	}

	g, workCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(parallel)

	for i := range variants {
		v := variants[i]
		g.Go(func() error {
			if quota.Load() || ctx.Err() != nil || workCtx.Err() != nil {
				return nil
			}

			res, err := e.executeVariant(workCtx, runID, v)
			mu.Lock()
			out.searchCalls += res.calls
			mu.Unlock()

			switch {
			case err == nil:
				v.Source = res.source
				v.Outcome = model.VariantOK
				v.LocalHits = res.localHits
				v.ProviderHits = res.providerHits
				if upErr := e.store.UpdateVariant(context.Background(), v); upErr != nil {
					zap.L().Warn("engine: update variant",
						zap.String("run_id", runID), zap.String("variant", string(v.Label)), zap.Error(upErr))
				}
				mu.Lock()
				out.succeeded++
				out.warnings = append(out.warnings, res.warnings...)
				mu.Unlock()
				return nil

			case resilience.IsQuota(err):
				quota.Store(true)
				e.failVariant(runID, v, err)
				// Returning the error cancels workCtx, which frees any
				// dispatched sibling still waiting on the limiter.
				return eris.Wrapf(err, "engine: variant %s", v.Label)

			default:
				e.failVariant(runID, v, err)
				mu.Lock()
				out.warnings = append(out.warnings, fmt.Sprintf("variant %s failed: %v", v.Label, err))
				mu.Unlock()
				return nil
			}
		})
	}

	out.quotaErr = g.Wait()
	return out
}

// failVariant records a variant's terminal failure. The write uses a
// fresh context so a cancelled run still keeps the outcome.
func (e *Engine) failVariant(runID string, v model.QueryVariant, cause error) {
	v.Outcome = model.VariantFailed
	v.Error = cause.Error()
	if err := e.store.UpdateVariant(context.Background(), v); err != nil {
		zap.L().Warn("engine: record variant failure",
			zap.String("run_id", runID), zap.String("variant", string(v.Label)), zap.Error(err))
	}
}

// localHit is one corpus answer within a local raw snapshot.
type localHit struct {
	Identifier string `json:"identifier"`
	Score      int    `json:"score"`
}

// executeVariant resolves one variant against the corpus first and tops
// up from the provider when the corpus cannot fill the requested count.
// Local hits take the leading ranks; provider ranks continue after them,
// and a record found by both keeps its local rank. The returned calls
// count is meaningful even on error.
func (e *Engine) executeVariant(ctx context.Context, runID string, v model.QueryVariant) (variantResult, error) {
	var res variantResult
	now := e.nowFunc()
	log := zap.L().With(zap.String("run_id", runID), zap.String("variant", string(v.Label)))

	matches, err := e.resolver.Resolve(ctx, v.Query, v.Count)
	if err != nil {
		return res, err
	}

	for i, m := range matches {
		hit := model.VariantHit{
			RunID:        runID,
			VariantLabel: v.Label,
			Identifier:   m.Record.Identifier,
			Rank:         i + 1,
			Source:       model.SourceLocal,
			FoundAt:      now,
		}
		if err := e.store.CreateVariantHit(ctx, hit); err != nil {
			return res, eris.Wrap(err, "engine: persist local hit")
		}
	}
	res.localHits = len(matches)

	if len(matches) > 0 {
		e.saveLocalSnapshot(ctx, runID, v.Label, matches, now)
	}

	if res.localHits >= v.Count {
		// The corpus filled the request; the provider is never consulted.
		res.source = model.SourceLocal
		log.Info("engine: variant satisfied locally", zap.Int("local_hits", res.localHits))
		return res, nil
	}

	resp, calls, err := e.search(ctx, v)
	res.calls = calls
	if calls > 0 {
		if cErr := e.store.RecordExternalCall(context.Background(), runID, calls); cErr != nil {
			log.Warn("engine: record external calls", zap.Error(cErr))
		}
	}
	if err != nil {
		return res, err
	}

	// The raw page is the audit trail and must exist before anything
	// derived from it.
	raw := model.RawResult{
		RunID:        runID,
		VariantLabel: v.Label,
		Endpoint:     ratelimit.EndpointSearch,
		Payload:      resp.Raw,
		FetchedAt:    e.nowFunc(),
	}
	if err := e.store.SaveRawResult(ctx, raw); err != nil {
		return res, eris.Wrap(err, "engine: save raw result")
	}

	page := normalize.Page(runID, v.Label, res.localHits, resp, e.nowFunc())
	for _, rec := range page.Records {
		if err := e.store.UpsertRecord(ctx, rec); err != nil {
			return res, eris.Wrapf(err, "engine: upsert record %s", rec.Identifier)
		}
	}
	for _, hit := range page.Hits {
		if err := e.store.CreateVariantHit(ctx, hit); err != nil {
			return res, eris.Wrap(err, "engine: persist provider hit")
		}
	}
	res.providerHits = len(page.Hits)
	if page.Dropped > 0 {
		res.warnings = append(res.warnings,
			fmt.Sprintf("variant %s: %d provider entries dropped for missing identifiers", v.Label, page.Dropped))
	}

	if res.localHits > 0 {
		res.source = model.SourceMixed
	} else {
		res.source = model.SourceProvider
	}
	log.Info("engine: variant executed",
		zap.Int("local_hits", res.localHits),
		zap.Int("provider_hits", res.providerHits),
		zap.Int("calls", res.calls),
	)
	return res, nil
}

// saveLocalSnapshot persists what the corpus answered, mirroring the raw
// pages kept for provider responses. Losing it is not fatal: the hits
// themselves are already persisted.
func (e *Engine) saveLocalSnapshot(ctx context.Context, runID string, label model.VariantLabel, matches []corpus.Match, now time.Time) {
	snap := make([]localHit, 0, len(matches))
	for _, m := range matches {
		snap = append(snap, localHit{Identifier: m.Record.Identifier, Score: m.Score})
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		zap.L().Warn("engine: marshal local snapshot", zap.String("run_id", runID), zap.Error(err))
		return
	}
	raw := model.RawResult{
		RunID:        runID,
		VariantLabel: label,
		Endpoint:     localEndpoint,
		Payload:      payload,
		FetchedAt:    now,
	}
	if err := e.store.SaveRawResult(ctx, raw); err != nil {
		zap.L().Warn("engine: save local snapshot", zap.String("run_id", runID), zap.Error(err))
	}
}

// search performs the variant's provider query. Each attempt reserves a
// rate-limit slot under the per-call deadline, so a slot that cannot
// arrive in time surfaces as a retryable timeout instead of an unbounded
// wait. calls counts attempts that reached the provider; they are charged
// even when the search ultimately fails.
func (e *Engine) search(ctx context.Context, v model.QueryVariant) (resp *serpapi.SearchResponse, calls int, err error) {
	timeout := time.Duration(e.cfg.Engine.CallTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	resp, err = resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*serpapi.SearchResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if acqErr := e.limiter.Acquire(callCtx, ratelimit.EndpointSearch); acqErr != nil {
			return nil, acqErr
		}
		calls++
		return e.client.Search(callCtx, serpapi.SearchRequest{Query: v.Query, Num: v.Count, Page: v.Page})
	})
	return resp, calls, err
}
