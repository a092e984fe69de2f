package corpus

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

// RecordSearcher is the store subset the resolver needs: a broad, bounded
// prefilter over title and abstract. Relevance ranking happens here, not in
// SQL, so both store backends behave identically.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, tokens []string, limit int) ([]model.CanonicalRecord, error)
}

// Match is one corpus record with its relevance score for a query.
type Match struct {
	Record model.CanonicalRecord
	Score  int
}

// Resolver answers queries from the local corpus.
type Resolver struct {
	store          RecordSearcher
	prefilterLimit int
}

// NewResolver creates a resolver over the given store.
func NewResolver(store RecordSearcher, prefilterLimit int) *Resolver {
	if prefilterLimit <= 0 {
		prefilterLimit = 200
	}
	return &Resolver{store: store, prefilterLimit: prefilterLimit}
}

// Resolve returns up to count corpus matches for the query, best first.
// A record scores 3 per distinct query token present in its title plus 1 per
// occurrence in its abstract; zero-scoring records are excluded. Ties order
// by identifier so results are reproducible.
func (r *Resolver) Resolve(ctx context.Context, query string, count int) ([]Match, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	records, err := r.store.SearchRecords(ctx, tokens, r.prefilterLimit)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: prefilter records")
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		if s := relevance(tokens, rec); s > 0 {
			matches = append(matches, Match{Record: rec, Score: s})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.Identifier < matches[j].Record.Identifier
	})

	if count > 0 && len(matches) > count {
		matches = matches[:count]
	}

	zap.L().Debug("corpus resolve",
		zap.Int("tokens", len(tokens)),
		zap.Int("prefiltered", len(records)),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// relevance scores one record against the query tokens: title presence is
// weighted 3, each abstract occurrence adds 1.
func relevance(tokens []string, rec model.CanonicalRecord) int {
	titleWords := make(map[string]bool)
	for _, w := range splitWords(strings.ToLower(rec.Title)) {
		titleWords[w] = true
	}

	abstractCounts := make(map[string]int)
	for _, w := range splitWords(strings.ToLower(rec.Abstract)) {
		abstractCounts[w]++
	}

	score := 0
	for _, tok := range tokens {
		if titleWords[tok] {
			score += 3
		}
		score += abstractCounts[tok]
	}
	return score
}
