package serpapi

// SearchRequest describes one paged query against the patent search engine.
type SearchRequest struct {
	Query string
	Num   int // results per page, provider caps at 100
	Page  int // 1-based
}

// SearchResponse is the parsed provider search page. Raw holds the verbatim
// response body so callers can persist it before any normalization.
type SearchResponse struct {
	SearchInformation SearchInformation `json:"search_information"`
	OrganicResults    []OrganicResult   `json:"organic_results"`
	Error             string            `json:"error,omitempty"`

	Raw []byte `json:"-"`
}

// SearchInformation carries page-level metadata.
type SearchInformation struct {
	TotalResults int `json:"total_results"`
	PageNumber   int `json:"page_number"`
}

// OrganicResult is a single search hit. PatentID carries the provider's
// native identifier, either the standard form ("patent/US11234567B2/en")
// or the scholar form ("scholar/1234567890").
type OrganicResult struct {
	Position          int      `json:"position"`
	Rank              int      `json:"rank"`
	PatentID          string   `json:"patent_id"`
	ScholarID         string   `json:"scholar_id,omitempty"`
	PublicationNumber string   `json:"publication_number,omitempty"`
	Title             string   `json:"title"`
	Snippet           string   `json:"snippet,omitempty"`
	Language          string   `json:"language,omitempty"`
	PublicationDate   string   `json:"publication_date,omitempty"`
	GrantDate         string   `json:"grant_date,omitempty"`
	FilingDate        string   `json:"filing_date,omitempty"`
	Inventor          string   `json:"inventor,omitempty"`
	Assignee          string   `json:"assignee,omitempty"`
	CPCs              []string `json:"cpcs,omitempty"`
	PDF               string   `json:"pdf,omitempty"`
	SerpapiLink       string   `json:"serpapi_link,omitempty"`
}

// DetailRequest asks for the full document record for one provider id.
// Fields optionally narrows the returned sections.
type DetailRequest struct {
	ID     string
	Fields []string
}

// DetailResponse is the parsed document detail. Raw holds the verbatim body.
type DetailResponse struct {
	Title                 string                  `json:"title"`
	PublicationNumber     string                  `json:"publication_number"`
	Abstract              string                  `json:"abstract,omitempty"`
	Description           string                  `json:"description,omitempty"`
	Claims                []string                `json:"claims,omitempty"`
	Inventors             []Party                 `json:"inventors,omitempty"`
	Assignees             []Party                 `json:"assignees,omitempty"`
	Classifications       []Classification        `json:"classifications,omitempty"`
	Events                []Event                 `json:"events,omitempty"`
	PatentCitations       CitationGroup           `json:"patent_citations,omitempty"`
	WorldwideApplications map[string][]FamilyItem `json:"worldwide_applications,omitempty"`
	Error                 string                  `json:"error,omitempty"`

	Raw []byte `json:"-"`
}

// Party is an inventor or assignee entry.
type Party struct {
	Name string `json:"name"`
}

// Classification is one CPC assignment.
type Classification struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Leaf        bool   `json:"leaf,omitempty"`
}

// Event is a prosecution or legal event.
type Event struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

// CitationGroup wraps the provider's citation lists.
type CitationGroup struct {
	Original []Citation `json:"original,omitempty"`
}

// Citation is one cited document.
type Citation struct {
	PublicationNumber string `json:"publication_number"`
	Title             string `json:"title,omitempty"`
	PrimaryExaminer   bool   `json:"is_examiner_cited,omitempty"`
}

// FamilyItem is one application in the worldwide family.
type FamilyItem struct {
	ApplicationNumber string `json:"application_number"`
	CountryCode       string `json:"country_code"`
	Legal             string `json:"legal_status,omitempty"`
}
