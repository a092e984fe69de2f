// Package shortlist flags the rows a run surfaces for detail fetching.
package shortlist

import "github.com/lattice-ip/priorart-engine/internal/model"

// Apply sets the Shortlisted flag on rows already sorted by position.
// Pinned rows (force_in) are always shortlisted and each consumes one of
// the k slots; dropped rows (force_out) are never shortlisted and their
// slot passes to the next ranked row. The function is idempotent: it
// clears and recomputes the flags on every call.
func Apply(rows []model.UnifiedResult, k int) []model.UnifiedResult {
	slots := k
	for i := range rows {
		rows[i].Shortlisted = false
		if rows[i].Override == model.OverrideForceIn {
			rows[i].Shortlisted = true
			slots--
		}
	}
	for i := range rows {
		if slots <= 0 {
			break
		}
		if rows[i].Override != "" {
			continue
		}
		rows[i].Shortlisted = true
		slots--
	}
	return rows
}

// Selected returns the shortlisted rows in position order.
func Selected(rows []model.UnifiedResult) []model.UnifiedResult {
	out := make([]model.UnifiedResult, 0, len(rows))
	for _, r := range rows {
		if r.Shortlisted {
			out = append(out, r)
		}
	}
	return out
}
