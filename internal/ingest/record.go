package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/normalize"
)

// fileRecord is the schema-agnostic row shape shared by every corpus file
// format. All fields carry raw strings as they appear in the file; toRecord
// runs them through the normalization layer.
type fileRecord struct {
	Identifier      string `json:"identifier" xml:"identifier"`
	Title           string `json:"title" xml:"title"`
	Abstract        string `json:"abstract" xml:"abstract"`
	Snippet         string `json:"snippet" xml:"snippet"`
	PublicationDate string `json:"publication_date" xml:"publication-date"`
	Assignee        string `json:"assignee" xml:"assignee"`
	Inventors       string `json:"inventors" xml:"inventors"`
	Classifications string `json:"classifications" xml:"classifications"`
	Link            string `json:"link" xml:"link"`
}

// toRecord converts a raw row into a canonical record. Rows whose identifier
// does not normalize to anything usable are reported as unusable, not fatal:
// bulk files routinely carry a few junk rows.
func (fr fileRecord) toRecord(now time.Time) (model.CanonicalRecord, bool) {
	id := normalize.ID(fr.Identifier)
	if id == "" {
		return model.CanonicalRecord{}, false
	}
	rec := model.CanonicalRecord{
		Identifier:      id,
		Title:           strings.TrimSpace(fr.Title),
		Abstract:        strings.TrimSpace(fr.Abstract),
		Snippet:         strings.TrimSpace(fr.Snippet),
		PublicationDate: normalize.Date(fr.PublicationDate),
		Assignee:        strings.TrimSpace(fr.Assignee),
		Inventors:       splitList(fr.Inventors),
		Link:            strings.TrimSpace(fr.Link),
		FirstSeenAt:     now,
		LastSeenAt:      now,
	}
	for _, c := range splitList(fr.Classifications) {
		if code := normalize.Classification(c); code != "" {
			rec.Classifications = append(rec.Classifications, code)
		}
	}
	return rec, true
}

// splitList splits a multi-value cell on semicolons, falling back to commas
// when the cell has none. Semicolons win so "Doe, Jane; Smith, John" keeps
// the comma inside each name.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// headerAliases maps the header spellings seen across patent office bulk
// exports onto fileRecord fields.
var headerAliases = map[string]string{
	"identifier":         "identifier",
	"id":                 "identifier",
	"patent_id":          "identifier",
	"patent_number":      "identifier",
	"publication_number": "identifier",
	"doc_number":         "identifier",
	"title":              "title",
	"invention_title":    "title",
	"abstract":           "abstract",
	"snippet":            "snippet",
	"summary":            "snippet",
	"publication_date":   "publication_date",
	"pub_date":           "publication_date",
	"date":               "publication_date",
	"assignee":           "assignee",
	"applicant":          "assignee",
	"owner":              "assignee",
	"inventors":          "inventors",
	"inventor":           "inventors",
	"classifications":    "classifications",
	"cpc":                "classifications",
	"cpcs":               "classifications",
	"cpc_codes":          "classifications",
	"link":               "link",
	"url":                "link",
}

// columnMap resolves which record field each column index feeds.
type columnMap map[int]string

// mapHeader matches header names against the known aliases. Unknown columns
// are ignored; a header without any identifier column is refused outright
// since every row would be unusable.
func mapHeader(header []string) (columnMap, error) {
	cols := make(columnMap, len(header))
	hasID := false
	for i, name := range header {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
		field, ok := headerAliases[key]
		if !ok {
			continue
		}
		cols[i] = field
		if field == "identifier" {
			hasID = true
		}
	}
	if !hasID {
		return nil, eris.New("ingest: no identifier column in header")
	}
	return cols, nil
}

// record assembles a fileRecord from one data row.
func (c columnMap) record(row []string) fileRecord {
	var fr fileRecord
	for i, field := range c {
		if i >= len(row) {
			continue
		}
		val := row[i]
		switch field {
		case "identifier":
			fr.Identifier = val
		case "title":
			fr.Title = val
		case "abstract":
			fr.Abstract = val
		case "snippet":
			fr.Snippet = val
		case "publication_date":
			fr.PublicationDate = val
		case "assignee":
			fr.Assignee = val
		case "inventors":
			fr.Inventors = val
		case "classifications":
			fr.Classifications = val
		case "link":
			fr.Link = val
		}
	}
	return fr
}
