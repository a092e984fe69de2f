package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

// ErrNotFound reports a lookup or update that matched no row. Backends wrap
// it with the entity and id; callers test with errors.Is.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	BundleID string          `json:"bundle_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the search engine.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, bundleID, bundleTitle string, hints []string, credits int) (*model.Run, error)
	// GetRun wraps ErrNotFound when no such run exists.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FinalizeRun(ctx context.Context, runID string, status model.RunStatus, warnings []string, errMsg string, cost float64) error
	RecordExternalCall(ctx context.Context, runID string, n int) error

	// Query variants
	CreateVariants(ctx context.Context, variants []model.QueryVariant) error
	UpdateVariant(ctx context.Context, v model.QueryVariant) error
	ListVariants(ctx context.Context, runID string) ([]model.QueryVariant, error)

	// Raw provider snapshots
	SaveRawResult(ctx context.Context, raw model.RawResult) error
	ListRawResults(ctx context.Context, runID string) ([]model.RawResult, error)

	// Canonical records
	UpsertRecord(ctx context.Context, rec model.CanonicalRecord) error
	// GetRecord returns nil without error for an unknown identifier.
	GetRecord(ctx context.Context, identifier string) (*model.CanonicalRecord, error)
	SearchRecords(ctx context.Context, tokens []string, limit int) ([]model.CanonicalRecord, error)
	BulkUpsertRecords(ctx context.Context, recs []model.CanonicalRecord) (int, error)

	// Variant hits
	CreateVariantHit(ctx context.Context, hit model.VariantHit) error
	ListVariantHits(ctx context.Context, runID string) ([]model.VariantHit, error)

	// Unified results
	ReplaceUnifiedResults(ctx context.Context, runID string, rows []model.UnifiedResult) error
	ListUnifiedResults(ctx context.Context, runID string) ([]model.UnifiedResult, error)
	SetShortlistOverride(ctx context.Context, runID, identifier string, override model.ShortlistOverride) error

	// Document details
	UpsertDetail(ctx context.Context, d model.DetailRecord) error
	// GetDetail returns nil without error when no detail has been stored.
	GetDetail(ctx context.Context, identifier string) (*model.DetailRecord, error)

	// Aggregates
	RunStats(ctx context.Context) (*model.RunStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
