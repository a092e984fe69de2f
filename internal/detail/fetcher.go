// Package detail refreshes full document records for shortlisted results.
package detail

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/normalize"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/resilience"
	"github.com/lattice-ip/priorart-engine/internal/store"
	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

// Option customizes a Fetcher, mainly for tests.
type Option func(*Fetcher)

// WithNow injects the clock used for staleness checks.
func WithNow(fn func() time.Time) Option {
	return func(f *Fetcher) { f.nowFunc = fn }
}

// Fetcher pulls document details for shortlisted records, one at a time.
// Details are cached across runs: a record fetched recently enough is not
// fetched again.
type Fetcher struct {
	store     store.Store
	client    serpapi.Client
	limiter   *ratelimit.Limiter
	retry     resilience.RetryConfig
	staleness time.Duration
	fields    []string
	nowFunc   func() time.Time
}

// New creates a Fetcher. cfg.Fields is the default section list; a run can
// narrow it further through the fields argument of Fetch.
func New(st store.Store, client serpapi.Client, limiter *ratelimit.Limiter, retry resilience.RetryConfig, cfg config.DetailConfig, opts ...Option) *Fetcher {
	days := cfg.StalenessDays
	if days <= 0 {
		days = 21
	}
	f := &Fetcher{
		store:     st,
		client:    client,
		limiter:   limiter,
		retry:     retry,
		staleness: time.Duration(days) * 24 * time.Hour,
		fields:    cfg.Fields,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch walks rows in the given order and refreshes each record's detail.
// Records whose cached detail is fetched and younger than the staleness
// window are skipped; failed details are always retried. A quota error
// aborts immediately. Any other provider failure persists a failed
// DetailRecord and continues; each one adds an entry to the returned
// warnings. calls reports how many attempts reached the provider, for
// cost estimation.
func (f *Fetcher) Fetch(ctx context.Context, runID string, rows []model.UnifiedResult, fields []string) (warnings []string, calls int, err error) {
	if len(fields) == 0 {
		fields = f.fields
	}
	log := zap.L().With(zap.String("run_id", runID))

	fetched, skipped := 0, 0
	for _, row := range rows {
		id := row.Identifier

		existing, err := f.store.GetDetail(ctx, id)
		if err != nil {
			log.Warn("detail: read cached detail", zap.String("identifier", id), zap.Error(err))
		}
		if existing != nil && existing.Status == model.DetailFetched &&
			f.nowFunc().Sub(existing.FetchedAt) < f.staleness {
			skipped++
			log.Debug("detail: cached detail still fresh", zap.String("identifier", id))
			continue
		}

		resp, attempts, err := f.fetchOne(ctx, id, fields)
		if attempts > 0 {
			calls += attempts
			if callErr := f.store.RecordExternalCall(ctx, runID, attempts); callErr != nil {
				log.Warn("detail: record external calls", zap.Error(callErr))
			}
		}
		if err != nil {
			if resilience.IsQuota(err) {
				return warnings, calls, eris.Wrapf(err, "detail: quota exhausted fetching %s", id)
			}
			if ctx.Err() != nil {
				return warnings, calls, eris.Wrapf(err, "detail: fetch %s", id)
			}

			failure := model.DetailRecord{
				Identifier: id,
				Status:     model.DetailFailed,
				FetchedAt:  f.nowFunc(),
				Error:      err.Error(),
			}
			if upErr := f.store.UpsertDetail(ctx, failure); upErr != nil {
				return warnings, calls, eris.Wrapf(upErr, "detail: persist failure for %s", id)
			}
			warnings = append(warnings, fmt.Sprintf("detail fetch failed for %s: %v", id, err))
			log.Warn("detail: fetch failed", zap.String("identifier", id), zap.Error(err))
			continue
		}

		now := f.nowFunc()
		raw := model.RawResult{
			RunID:     runID,
			Endpoint:  ratelimit.EndpointDetail,
			Payload:   resp.Raw,
			FetchedAt: now,
		}
		if rawErr := f.store.SaveRawResult(ctx, raw); rawErr != nil {
			log.Warn("detail: save raw result", zap.String("identifier", id), zap.Error(rawErr))
		}

		if err := f.store.UpsertDetail(ctx, normalize.Detail(id, resp, fields, now)); err != nil {
			return warnings, calls, eris.Wrapf(err, "detail: upsert detail %s", id)
		}
		fetched++
	}

	log.Info("detail: shortlist refreshed",
		zap.Int("fetched", fetched),
		zap.Int("skipped", skipped),
		zap.Int("failed", len(warnings)),
	)
	return warnings, calls, nil
}

// fetchOne performs one rate-limited provider call with retries. calls counts
// the attempts that actually reached the provider, so the caller can charge
// them against the run even when the fetch ultimately fails.
func (f *Fetcher) fetchOne(ctx context.Context, id string, fields []string) (resp *serpapi.DetailResponse, calls int, err error) {
	resp, err = resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*serpapi.DetailResponse, error) {
		if acqErr := f.limiter.Acquire(ctx, ratelimit.EndpointDetail); acqErr != nil {
			return nil, acqErr
		}
		calls++
		return f.client.Details(ctx, serpapi.DetailRequest{ID: id, Fields: fields})
	})
	return resp, calls, err
}
