package model

import "time"

// CanonicalRecord is the deduplicated representation of a patent or scholarly
// document. The Identifier is already normalized; records live in the local
// corpus across runs.
type CanonicalRecord struct {
	Identifier      string     `json:"identifier"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Snippet         string     `json:"snippet,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Assignee        string     `json:"assignee,omitempty"`
	Inventors       []string   `json:"inventors,omitempty"`
	Classifications []string   `json:"classifications,omitempty"`
	Link            string     `json:"link,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
}

// VariantHit links a canonical record to the variant that surfaced it.
// Hits are append-only: one row per discovery, never updated.
type VariantHit struct {
	RunID        string       `json:"run_id"`
	VariantLabel VariantLabel `json:"variant_label"`
	Identifier   string       `json:"identifier"`
	Rank         int          `json:"rank"` // 1-based position within the variant's merged result list
	Source       HitSource    `json:"source"`
	FoundAt      time.Time    `json:"found_at"`
}

// IntersectionClass says how many variants surfaced a record.
type IntersectionClass string

const (
	IntersectionI3   IntersectionClass = "I3"   // all three variants
	IntersectionI2   IntersectionClass = "I2"   // exactly two
	IntersectionNone IntersectionClass = "NONE" // a single variant
)

// ShortlistOverride is a sticky manual adjustment to shortlist membership.
type ShortlistOverride string

const (
	OverrideNone     ShortlistOverride = ""
	OverrideForceIn  ShortlistOverride = "force_in"
	OverrideForceOut ShortlistOverride = "force_out"
)

// UnifiedResult is one row of a run's merged, scored result set. Rows are
// recomputed whenever merge or scoring reruns; the Override survives.
type UnifiedResult struct {
	RunID        string            `json:"run_id"`
	Identifier   string            `json:"identifier"`
	Intersection IntersectionClass `json:"intersection"`
	Score        float64           `json:"score"`
	Position     int               `json:"position"` // 1-based final ordering
	Shortlisted  bool              `json:"shortlisted"`
	Override     ShortlistOverride `json:"override,omitempty"`

	// Score component breakdown, persisted for explainability.
	TitleDensity          float64 `json:"title_density"`
	SnippetDensity        float64 `json:"snippet_density"`
	VariantSignal         float64 `json:"variant_signal"`
	ClassificationOverlap float64 `json:"classification_overlap"`
	Recency               float64 `json:"recency"`
	ConsensusBonus        float64 `json:"consensus_bonus"`
}

// DetailStatus is the outcome of a detail fetch for one record.
type DetailStatus string

const (
	DetailFetched DetailStatus = "fetched"
	DetailFailed  DetailStatus = "failed"
)

// DetailRecord holds the full document detail for a shortlisted record.
type DetailRecord struct {
	Identifier    string       `json:"identifier"`
	Status        DetailStatus `json:"status"`
	Claims        string       `json:"claims,omitempty"`
	Description   string       `json:"description,omitempty"`
	Citations     []string     `json:"citations,omitempty"`
	LegalEvents   []string     `json:"legal_events,omitempty"`
	FamilyMembers []string     `json:"family_members,omitempty"`
	Raw           []byte       `json:"raw,omitempty"`
	FetchedAt     time.Time    `json:"fetched_at"`
	Error         string       `json:"error,omitempty"`
}

// RateLimiterState is an observability snapshot of one endpoint gate.
type RateLimiterState struct {
	Endpoint       string    `json:"endpoint"`
	LastCallAt     time.Time `json:"last_call_at"`
	WaitingCallers int       `json:"waiting_callers"`
}
