package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

// PageResult is one provider page mapped into canonical records and hits.
type PageResult struct {
	Records []model.CanonicalRecord
	Hits    []model.VariantHit

	// Dropped counts entries whose identifier normalized to empty. The
	// caller surfaces these as run warnings; they are never silently lost.
	Dropped int
}

// Page maps a raw provider search page into canonical upserts plus variant
// hits, preserving the provider's rank order. Ranks start at startRank+1 so
// provider hits can follow local-resolver hits within the same variant.
func Page(runID string, label model.VariantLabel, startRank int, resp *serpapi.SearchResponse, now time.Time) PageResult {
	var out PageResult
	seen := make(map[string]bool, len(resp.OrganicResults))
	rank := startRank

	for _, r := range resp.OrganicResults {
		id := ID(r.PatentID)
		if id == "" {
			id = ID(r.PublicationNumber)
		}
		if id == "" {
			out.Dropped++
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rank++

		out.Records = append(out.Records, model.CanonicalRecord{
			Identifier:      id,
			Title:           strings.TrimSpace(r.Title),
			Snippet:         strings.TrimSpace(r.Snippet),
			PublicationDate: Date(firstNonEmpty(r.PublicationDate, r.GrantDate)),
			Assignee:        strings.TrimSpace(r.Assignee),
			Inventors:       splitNames(r.Inventor),
			Classifications: classifications(r.CPCs),
			Link:            firstNonEmpty(r.SerpapiLink, r.PDF),
			FirstSeenAt:     now,
			LastSeenAt:      now,
		})
		out.Hits = append(out.Hits, model.VariantHit{
			RunID:        runID,
			VariantLabel: label,
			Identifier:   id,
			Rank:         rank,
			Source:       model.SourceProvider,
			FoundAt:      now,
		})
	}

	return out
}

// Detail maps a raw provider detail response onto a DetailRecord, keeping
// only the requested sections. An empty field list keeps everything.
func Detail(id string, resp *serpapi.DetailResponse, fields []string, now time.Time) model.DetailRecord {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[strings.ToLower(strings.TrimSpace(f))] = true
	}
	keep := func(section string) bool {
		return len(want) == 0 || want[section]
	}

	rec := model.DetailRecord{
		Identifier: id,
		Status:     model.DetailFetched,
		Raw:        resp.Raw,
		FetchedAt:  now,
	}

	if keep("claims") {
		rec.Claims = strings.Join(resp.Claims, "\n")
	}
	if keep("description") {
		rec.Description = resp.Description
	}
	if keep("citations") {
		for _, c := range resp.PatentCitations.Original {
			if cid := ID(c.PublicationNumber); cid != "" {
				rec.Citations = append(rec.Citations, cid)
			}
		}
	}
	if keep("legal_events") {
		for _, e := range resp.Events {
			rec.LegalEvents = append(rec.LegalEvents, strings.TrimSpace(e.Date+" "+e.Title))
		}
	}
	if keep("family") {
		years := make([]string, 0, len(resp.WorldwideApplications))
		for year := range resp.WorldwideApplications {
			years = append(years, year)
		}
		sort.Strings(years)
		for _, year := range years {
			for _, item := range resp.WorldwideApplications[year] {
				rec.FamilyMembers = append(rec.FamilyMembers,
					fmt.Sprintf("%s/%s (%s)", item.CountryCode, item.ApplicationNumber, year))
			}
		}
	}

	return rec
}

// Date parses a provider date string, returning nil when absent or malformed.
func Date(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func classifications(codes []string) []string {
	var out []string
	for _, c := range codes {
		if cc := Classification(c); cc != "" {
			out = append(out, cc)
		}
	}
	return out
}

func splitNames(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
