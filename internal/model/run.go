// Package model defines the persisted entities of the prior-art search engine.
package model

import "time"

// RunStatus represents the lifecycle state of a search run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "PENDING"
	RunStatusRunningVariants RunStatus = "RUNNING_VARIANTS"
	RunStatusMerging         RunStatus = "MERGING"
	RunStatusShortlisting    RunStatus = "SHORTLISTING"
	RunStatusFetchingDetails RunStatus = "FETCHING_DETAILS"
	RunStatusCompleted       RunStatus = "COMPLETED"
	RunStatusCompletedWarn   RunStatus = "COMPLETED_WITH_WARNINGS"
	RunStatusCreditExhausted RunStatus = "CREDIT_EXHAUSTED"
	RunStatusFailed          RunStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWarn, RunStatusCreditExhausted, RunStatusFailed:
		return true
	}
	return false
}

// VariantLabel identifies one of the three query variants in a bundle.
type VariantLabel string

const (
	VariantBroad    VariantLabel = "broad"
	VariantBaseline VariantLabel = "baseline"
	VariantNarrow   VariantLabel = "narrow"
)

// VariantLabels lists the three labels in dispatch order.
var VariantLabels = []VariantLabel{VariantBroad, VariantBaseline, VariantNarrow}

// HitSource describes where a variant's results came from.
type HitSource string

const (
	SourceLocal    HitSource = "local"
	SourceProvider HitSource = "provider"
	SourceMixed    HitSource = "mixed"
)

// VariantOutcome is the per-variant terminal result within a run.
type VariantOutcome string

const (
	VariantPending VariantOutcome = "pending"
	VariantOK      VariantOutcome = "ok"
	VariantFailed  VariantOutcome = "failed"
)

// Run represents one execution of an approved query bundle.
type Run struct {
	ID             string     `json:"id"`
	BundleID       string     `json:"bundle_id"`
	BundleTitle    string     `json:"bundle_title"`
	Hints          []string   `json:"hints,omitempty"` // classification hints frozen from the bundle so rescoring stays reproducible
	Status         RunStatus  `json:"status"`
	CreditsCharged int        `json:"credits_charged"` // written once at creation, never updated
	ExternalCalls  int        `json:"external_calls"`
	CostEstimate   float64    `json:"cost_estimate"`
	Warnings       []string   `json:"warnings,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// QueryVariant is one of the three reformulations executed for a run.
type QueryVariant struct {
	RunID        string         `json:"run_id"`
	Label        VariantLabel   `json:"label"`
	Query        string         `json:"query"`
	Count        int            `json:"count"`
	Page         int            `json:"page"`
	Source       HitSource      `json:"source"`
	Outcome      VariantOutcome `json:"outcome"`
	LocalHits    int            `json:"local_hits"`
	ProviderHits int            `json:"provider_hits"`
	Error        string         `json:"error,omitempty"`
}

// RawResult is a verbatim provider response page, persisted before any
// normalization so reprocessing and audits can start from the original bytes.
type RawResult struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	VariantLabel VariantLabel `json:"variant_label"`
	Endpoint     string       `json:"endpoint"`
	Payload      []byte       `json:"payload"`
	FetchedAt    time.Time    `json:"fetched_at"`
}

// RunStats summarizes stored runs for the stats command.
type RunStats struct {
	TotalRuns     int            `json:"total_runs"`
	ByStatus      map[string]int `json:"by_status"`
	ExternalCalls int            `json:"external_calls"`
	TotalCost     float64        `json:"total_cost"`
	Records       int            `json:"records"`
	Details       int            `json:"details"`
}
