package merge

import (
	"github.com/lattice-ip/priorart-engine/internal/model"
)

// Record folds a fresh sighting of a document into the stored canonical
// record. The merge is non-destructive: an empty incoming field never erases
// a stored value. Non-empty incoming scalars refresh the stored ones, list
// fields are unioned, and the seen window only widens.
func Record(dst *model.CanonicalRecord, src model.CanonicalRecord) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Abstract != "" {
		dst.Abstract = src.Abstract
	}
	if src.Snippet != "" {
		dst.Snippet = src.Snippet
	}
	if src.PublicationDate != nil {
		dst.PublicationDate = src.PublicationDate
	}
	if src.Assignee != "" {
		dst.Assignee = src.Assignee
	}
	if src.Link != "" {
		dst.Link = src.Link
	}

	dst.Inventors = unionStrings(dst.Inventors, src.Inventors)
	dst.Classifications = unionStrings(dst.Classifications, src.Classifications)

	if dst.FirstSeenAt.IsZero() || (!src.FirstSeenAt.IsZero() && src.FirstSeenAt.Before(dst.FirstSeenAt)) {
		dst.FirstSeenAt = src.FirstSeenAt
	}
	if src.LastSeenAt.After(dst.LastSeenAt) {
		dst.LastSeenAt = src.LastSeenAt
	}
}

// unionStrings appends items from add that are not already in base,
// preserving first-seen order.
func unionStrings(base, add []string) []string {
	if len(add) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	out := base
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
