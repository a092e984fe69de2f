// Package scoring ranks merged results by blended relevance.
package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/corpus"
	"github.com/lattice-ip/priorart-engine/internal/merge"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/normalize"
)

// DefaultConfig returns the documented score weights: 0.35 title density,
// 0.20 snippet density, 0.20 variant signal, 0.15 classification overlap,
// 0.10 recency, with consensus bonuses of 0.15 (I3) and 0.08 (I2).
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		TitleWeight:          0.35,
		SnippetWeight:        0.20,
		VariantWeight:        0.20,
		ClassificationWeight: 0.15,
		RecencyWeight:        0.10,
		SignalNarrow:         1.0,
		SignalBaseline:       0.6,
		SignalBroad:          0.3,
		ConsensusI3:          0.15,
		ConsensusI2:          0.08,
		RecencyYears:         10,
	}
}

// Scorer computes relevance scores for one run's merged records. It is
// constructed per run: the baseline variant's tokens and the bundle's
// classification hints are fixed inputs.
type Scorer struct {
	cfg    config.ScoringConfig
	tokens []string
	hints  []string
	now    time.Time
}

// New creates a scorer. baselineQuery is the bundle's reference query;
// hints are the bundle's optional classification codes.
func New(cfg config.ScoringConfig, baselineQuery string, hints []string, now time.Time) *Scorer {
	normHints := make([]string, 0, len(hints))
	for _, h := range hints {
		if hh := normalize.Classification(h); hh != "" {
			normHints = append(normHints, hh)
		}
	}
	return &Scorer{
		cfg:    cfg,
		tokens: corpus.Tokenize(baselineQuery),
		hints:  normHints,
		now:    now,
	}
}

// Score computes the blended relevance for one record, returning the row
// with its component breakdown. Final score is capped at 1.0.
func (s *Scorer) Score(rec model.CanonicalRecord, agg *merge.Aggregate) model.UnifiedResult {
	row := model.UnifiedResult{
		Identifier:   rec.Identifier,
		Intersection: merge.Classify(agg),
	}

	row.TitleDensity = density(s.tokens, rec.Title)
	row.SnippetDensity = density(s.tokens, rec.Snippet)
	row.VariantSignal = s.variantSignal(agg)
	row.ClassificationOverlap = s.classificationOverlap(rec.Classifications)
	row.Recency = s.recency(rec.PublicationDate)

	switch row.Intersection {
	case model.IntersectionI3:
		row.ConsensusBonus = s.cfg.ConsensusI3
	case model.IntersectionI2:
		row.ConsensusBonus = s.cfg.ConsensusI2
	}

	score := s.cfg.TitleWeight*row.TitleDensity +
		s.cfg.SnippetWeight*row.SnippetDensity +
		s.cfg.VariantWeight*row.VariantSignal +
		s.cfg.ClassificationWeight*row.ClassificationOverlap +
		s.cfg.RecencyWeight*row.Recency +
		row.ConsensusBonus

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	row.Score = score
	return row
}

// Order sorts rows for presentation: score descending, publication date
// descending with undated records last, identifier ascending. Position is
// assigned 1-based after the sort.
func Order(rows []model.UnifiedResult, pubDates map[string]*time.Time) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		di, dj := pubDates[rows[i].Identifier], pubDates[rows[j].Identifier]
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.After(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return rows[i].Identifier < rows[j].Identifier
	})
	for i := range rows {
		rows[i].Position = i + 1
	}
}

// variantSignal takes the strongest signal among the variants that surfaced
// the record: narrow beats baseline beats broad.
func (s *Scorer) variantSignal(agg *merge.Aggregate) float64 {
	switch {
	case agg.Found(model.VariantNarrow):
		return s.cfg.SignalNarrow
	case agg.Found(model.VariantBaseline):
		return s.cfg.SignalBaseline
	case agg.Found(model.VariantBroad):
		return s.cfg.SignalBroad
	}
	return 0
}

// classificationOverlap is the fraction of bundle hint codes matched by a
// record classification prefix. No hints means the component stays 0.
func (s *Scorer) classificationOverlap(classes []string) float64 {
	if len(s.hints) == 0 || len(classes) == 0 {
		return 0
	}
	matched := 0
	for _, hint := range s.hints {
		for _, c := range classes {
			if strings.HasPrefix(c, hint) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(s.hints))
}

// recency ramps linearly over the trailing window: published now scores 1,
// published at or before the window start scores 0, missing dates score 0.
func (s *Scorer) recency(pub *time.Time) float64 {
	if pub == nil {
		return 0
	}
	window := time.Duration(s.cfg.RecencyYears) * 365 * 24 * time.Hour
	age := s.now.Sub(*pub)
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

// density is the fraction of query tokens that appear as words in the text.
func density(tokens []string, text string) float64 {
	if len(tokens) == 0 || text == "" {
		return 0
	}
	// Query tokens are capped, the text side is not: every word in the
	// title or snippet counts toward presence.
	words := make(map[string]bool)
	for _, w := range splitLower(text) {
		words[w] = true
	}
	matched := 0
	for _, tok := range tokens {
		if words[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func splitLower(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
