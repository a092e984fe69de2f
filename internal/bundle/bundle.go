// Package bundle defines approved query bundles and loads them from their
// upstream sources. The engine consumes bundles read-only; authoring and
// approval happen outside this system.
package bundle

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

const (
	// MaxQueryLen bounds a variant's query text, in characters.
	MaxQueryLen = 300
	// MaxCount bounds a variant's requested result count.
	MaxCount = 50
	// DefaultCount is the provider's native page size, used when a variant
	// does not ask for a specific count.
	DefaultCount = 10
)

// Variant is one labeled query formulation.
type Variant struct {
	Label model.VariantLabel `yaml:"label" json:"label"`
	Query string             `yaml:"query" json:"query"`
	Count int                `yaml:"count" json:"count"`
	Page  int                `yaml:"page" json:"page"`
}

// Bundle is a frozen three-variant search request.
type Bundle struct {
	ID           string    `yaml:"id" json:"id"`
	Title        string    `yaml:"title" json:"title"`
	Variants     []Variant `yaml:"variants" json:"variants"`
	Hints        []string  `yaml:"hints,omitempty" json:"hints,omitempty"`
	DetailFields []string  `yaml:"detail_fields,omitempty" json:"detail_fields,omitempty"`
}

// SetDefaults fills optional variant fields: count DefaultCount, page 1.
func (b *Bundle) SetDefaults() {
	for i := range b.Variants {
		if b.Variants[i].Count == 0 {
			b.Variants[i].Count = DefaultCount
		}
		if b.Variants[i].Page == 0 {
			b.Variants[i].Page = 1
		}
	}
}

// Validate checks the bundle against the engine's input contract. A bundle
// that fails validation never creates a run.
func (b *Bundle) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return eris.New("bundle: missing id")
	}
	if len(b.Variants) != len(model.VariantLabels) {
		return eris.Errorf("bundle %s: want %d variants, got %d", b.ID, len(model.VariantLabels), len(b.Variants))
	}
	seen := make(map[model.VariantLabel]bool, len(b.Variants))
	for _, v := range b.Variants {
		switch v.Label {
		case model.VariantBroad, model.VariantBaseline, model.VariantNarrow:
		default:
			return eris.Errorf("bundle %s: unknown variant label %q", b.ID, v.Label)
		}
		if seen[v.Label] {
			return eris.Errorf("bundle %s: duplicate variant label %q", b.ID, v.Label)
		}
		seen[v.Label] = true

		if strings.TrimSpace(v.Query) == "" {
			return eris.Errorf("bundle %s: variant %s has an empty query", b.ID, v.Label)
		}
		if n := utf8.RuneCountInString(v.Query); n > MaxQueryLen {
			return eris.Errorf("bundle %s: variant %s query is %d characters, max %d", b.ID, v.Label, n, MaxQueryLen)
		}
		if v.Count < 1 || v.Count > MaxCount {
			return eris.Errorf("bundle %s: variant %s count %d outside 1-%d", b.ID, v.Label, v.Count, MaxCount)
		}
		if v.Page < 1 {
			return eris.Errorf("bundle %s: variant %s page %d, must be at least 1", b.ID, v.Label, v.Page)
		}
	}
	return nil
}

// Variant returns the variant with the given label.
func (b *Bundle) Variant(label model.VariantLabel) (Variant, bool) {
	for _, v := range b.Variants {
		if v.Label == label {
			return v, true
		}
	}
	return Variant{}, false
}

// Ordered returns the variants in dispatch order: broad, baseline, narrow.
func (b *Bundle) Ordered() []Variant {
	out := make([]Variant, 0, len(model.VariantLabels))
	for _, label := range model.VariantLabels {
		if v, ok := b.Variant(label); ok {
			out = append(out, v)
		}
	}
	return out
}

// Baseline returns the baseline variant's query text, the reference query
// for scoring.
func (b *Bundle) Baseline() string {
	v, _ := b.Variant(model.VariantBaseline)
	return v.Query
}
