package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/merge"
	"github.com/lattice-ip/priorart-engine/internal/model"
)

func aggWith(labels ...model.VariantLabel) *merge.Aggregate {
	agg := &merge.Aggregate{
		Identifier: "US1234567B2",
		BestRank:   make(map[model.VariantLabel]int),
		Sources:    map[model.HitSource]bool{model.SourceProvider: true},
	}
	for i, l := range labels {
		agg.BestRank[l] = i + 1
	}
	return agg
}

func datePtr(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return &d
}

func TestScore_ComponentBreakdown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultConfig(), "acoustic resonance sensor", []string{"G01N"}, now)

	pub := now.Add(-365 * 24 * time.Hour) // one year into a ten year window
	rec := model.CanonicalRecord{
		Identifier:      "US1234567B2",
		Title:           "Acoustic sensor assembly",       // 2 of 3 tokens
		Snippet:         "A resonance chamber is formed.", // 1 of 3 tokens
		Classifications: []string{"G01N29/02"},
		PublicationDate: &pub,
	}

	row := s.Score(rec, aggWith(model.VariantBaseline, model.VariantNarrow))

	assert.InDelta(t, 2.0/3.0, row.TitleDensity, 1e-9)
	assert.InDelta(t, 1.0/3.0, row.SnippetDensity, 1e-9)
	assert.InDelta(t, 1.0, row.VariantSignal, 1e-9) // narrow found, so the strongest signal applies
	assert.InDelta(t, 1.0, row.ClassificationOverlap, 1e-9)
	assert.InDelta(t, 0.9, row.Recency, 1e-9)
	assert.Equal(t, model.IntersectionI2, row.Intersection)
	assert.InDelta(t, 0.08, row.ConsensusBonus, 1e-9)

	want := 0.35*row.TitleDensity +
		0.20*row.SnippetDensity +
		0.20*row.VariantSignal +
		0.15*row.ClassificationOverlap +
		0.10*row.Recency +
		row.ConsensusBonus
	assert.InDelta(t, want, row.Score, 1e-9)
}

func TestScore_CappedAtOne(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultConfig(), "acoustic sensor", []string{"G01N"}, now)

	rec := model.CanonicalRecord{
		Identifier:      "US1B2",
		Title:           "Acoustic sensor",
		Snippet:         "acoustic sensor",
		Classifications: []string{"G01N29/02"},
		PublicationDate: &now,
	}
	row := s.Score(rec, aggWith(model.VariantBroad, model.VariantBaseline, model.VariantNarrow))

	// All components maxed plus the I3 bonus sums past 1.0.
	assert.Equal(t, model.IntersectionI3, row.Intersection)
	assert.Equal(t, 1.0, row.Score)
}

func TestScore_VariantSignal(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig(), "q", nil, time.Now())
	tests := []struct {
		name   string
		labels []model.VariantLabel
		want   float64
	}{
		{"narrow only", []model.VariantLabel{model.VariantNarrow}, 1.0},
		{"baseline only", []model.VariantLabel{model.VariantBaseline}, 0.6},
		{"broad only", []model.VariantLabel{model.VariantBroad}, 0.3},
		{"narrow beats broad", []model.VariantLabel{model.VariantBroad, model.VariantNarrow}, 1.0},
		{"baseline beats broad", []model.VariantLabel{model.VariantBroad, model.VariantBaseline}, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			row := s.Score(model.CanonicalRecord{Identifier: "X"}, aggWith(tt.labels...))
			assert.InDelta(t, tt.want, row.VariantSignal, 1e-9)
		})
	}
}

func TestScore_ClassificationOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hints   []string
		classes []string
		want    float64
	}{
		{"full prefix match", []string{"G01N"}, []string{"G01N29/02"}, 1.0},
		{"half matched", []string{"G01N", "H04L"}, []string{"G01N29/02"}, 0.5},
		{"no hints", nil, []string{"G01N29/02"}, 0},
		{"no classes", []string{"G01N"}, nil, 0},
		{"case insensitive hint", []string{"g01n"}, []string{"G01N29/02"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(DefaultConfig(), "q", tt.hints, time.Now())
			row := s.Score(model.CanonicalRecord{Identifier: "X", Classifications: tt.classes}, aggWith(model.VariantBroad))
			assert.InDelta(t, tt.want, row.ClassificationOverlap, 1e-9)
		})
	}
}

func TestScore_Recency(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(DefaultConfig(), "q", nil, now)

	halfway := now.Add(-5 * 365 * 24 * time.Hour)
	old := now.Add(-11 * 365 * 24 * time.Hour)

	tests := []struct {
		name string
		pub  *time.Time
		want float64
	}{
		{"published today", &now, 1.0},
		{"halfway through window", &halfway, 0.5},
		{"outside window", &old, 0},
		{"undated", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			row := s.Score(model.CanonicalRecord{Identifier: "X", PublicationDate: tt.pub}, aggWith(model.VariantBroad))
			assert.InDelta(t, tt.want, row.Recency, 1e-9)
		})
	}
}

func TestOrder_ScoreThenDateThenIdentifier(t *testing.T) {
	t.Parallel()

	rows := []model.UnifiedResult{
		{Identifier: "B", Score: 0.5},
		{Identifier: "A", Score: 0.5},
		{Identifier: "C", Score: 0.9},
		{Identifier: "D", Score: 0.5},
		{Identifier: "E", Score: 0.5},
	}
	dates := map[string]*time.Time{
		"A": datePtr(t, "2020-01-01"),
		"B": datePtr(t, "2022-01-01"),
		"D": nil,
		"E": datePtr(t, "2022-01-01"),
	}

	Order(rows, dates)

	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = r.Identifier
	}
	// Highest score first, then newest date; equal dates fall back to the
	// identifier, undated rows sort last within their score band.
	assert.Equal(t, []string{"C", "B", "E", "A", "D"}, got)
	for i, r := range rows {
		assert.Equal(t, i+1, r.Position)
	}
}

func TestDensity_FractionOfQueryTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tokens []string
		text   string
		want   float64
	}{
		{"all present", []string{"acoustic", "sensor"}, "An Acoustic Sensor", 1.0},
		{"half present", []string{"acoustic", "sensor"}, "acoustic device", 0.5},
		{"word boundary respected", []string{"sensor"}, "sensors on board", 0},
		{"empty text", []string{"acoustic"}, "", 0},
		{"no tokens", nil, "anything", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, density(tt.tokens, tt.text), 1e-9)
		})
	}
}
