// Package merge combines per-variant hits into per-record aggregates and
// classifies cross-variant consensus. Everything here is pure: the same hit
// set always produces the same output, so re-running the merge stage after a
// variant retry is safe.
package merge

import (
	"github.com/lattice-ip/priorart-engine/internal/model"
)

// Aggregate summarizes every discovery of one record within a run.
type Aggregate struct {
	Identifier string

	// BestRank holds the lowest (best) 1-based rank per variant that
	// surfaced the record.
	BestRank map[model.VariantLabel]int

	// Sources records where the discoveries came from.
	Sources map[model.HitSource]bool
}

// Collect folds a run's variant hits into per-record aggregates. Duplicate
// discoveries of the same record by the same variant keep the best rank.
func Collect(hits []model.VariantHit) map[string]*Aggregate {
	aggs := make(map[string]*Aggregate)
	for _, h := range hits {
		agg, ok := aggs[h.Identifier]
		if !ok {
			agg = &Aggregate{
				Identifier: h.Identifier,
				BestRank:   make(map[model.VariantLabel]int),
				Sources:    make(map[model.HitSource]bool),
			}
			aggs[h.Identifier] = agg
		}
		if cur, ok := agg.BestRank[h.VariantLabel]; !ok || h.Rank < cur {
			agg.BestRank[h.VariantLabel] = h.Rank
		}
		agg.Sources[h.Source] = true
	}
	return aggs
}

// Classify maps an aggregate's variant coverage onto an intersection class.
func Classify(agg *Aggregate) model.IntersectionClass {
	switch len(agg.BestRank) {
	case 3:
		return model.IntersectionI3
	case 2:
		return model.IntersectionI2
	default:
		return model.IntersectionNone
	}
}

// Found reports whether the given variant surfaced the record.
func (a *Aggregate) Found(label model.VariantLabel) bool {
	_, ok := a.BestRank[label]
	return ok
}
