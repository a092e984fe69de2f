package serpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/resilience"
)

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	const page = `{
		"search_information": {"total_results": 2, "page_number": 1},
		"organic_results": [
			{
				"position": 1,
				"patent_id": "patent/US11234567B2/en",
				"publication_number": "US11234567B2",
				"title": "Acoustic echo cancellation",
				"snippet": "A method for cancelling acoustic echo...",
				"publication_date": "2021-01-05",
				"assignee": "Acme Audio Inc.",
				"inventor": "Jane Smith",
				"cpcs": ["G10L21/0208"]
			},
			{
				"position": 2,
				"patent_id": "scholar/8837114895081549485",
				"title": "Echo suppression in full-duplex systems",
				"snippet": "We present a suppression filter..."
			}
		]
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/search.json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "google_patents", q.Get("engine"))
		assert.Equal(t, "echo cancellation", q.Get("q"))
		assert.Equal(t, "20", q.Get("num"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "test-key", q.Get("api_key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Search(context.Background(), SearchRequest{Query: "echo cancellation", Num: 20, Page: 2})

	require.NoError(t, err)
	require.Len(t, got.OrganicResults, 2)
	assert.Equal(t, 2, got.SearchInformation.TotalResults)
	assert.Equal(t, "patent/US11234567B2/en", got.OrganicResults[0].PatentID)
	assert.Equal(t, "Acoustic echo cancellation", got.OrganicResults[0].Title)
	assert.Equal(t, []string{"G10L21/0208"}, got.OrganicResults[0].CPCs)
	assert.Equal(t, "scholar/8837114895081549485", got.OrganicResults[1].PatentID)
	assert.JSONEq(t, page, string(got.Raw), "raw body must be preserved verbatim")
}

func TestSearch_FirstPageOmitsPageParam(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"organic_results": []}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "anything", Num: 10, Page: 1})
	require.NoError(t, err)
}

func TestSearch_NoResults_IsEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Google Patents hasn't returned any results for this query."}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Search(context.Background(), SearchRequest{Query: "zxqv impossible", Num: 10, Page: 1})

	require.NoError(t, err)
	assert.Empty(t, got.OrganicResults)
}

func TestSearch_QuotaExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"You are exceeding your searches per month."}`))
	}))
	defer srv.Close()

	client := NewClient("super-secret-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "anything", Num: 10, Page: 1})

	require.Error(t, err)
	assert.True(t, resilience.IsQuota(err), "429 must map to a quota error")
	assert.False(t, resilience.IsTransient(err), "quota must not be retryable")
	assert.Contains(t, err.Error(), "3600")
	assert.NotContains(t, err.Error(), "super-secret-key", "api key must never leak into errors")
}

func TestSearch_ServerError_Transient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`upstream unavailable`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "anything", Num: 10, Page: 1})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsQuota(err))
}

func TestSearch_BadRequest_NotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Missing query"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "", Num: 10, Page: 1})

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsQuota(err))
	assert.Contains(t, err.Error(), "400")
}

func TestSearch_TransportErrorOmitsCredential(t *testing.T) {
	t.Parallel()

	// A server that is already gone forces a dial failure. The url.Error
	// from the transport carries the request URL, api key included, so the
	// client must not wrap it whole.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := NewClient("super-secret-key", WithBaseURL(base))
	_, err := client.Search(context.Background(), SearchRequest{Query: "anything", Num: 10, Page: 1})

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-key", "api key must never leak into errors")
	assert.NotContains(t, err.Error(), "api_key")
	assert.True(t, resilience.IsTransient(err), "connection refused is retryable")
}

func TestDetails_Success(t *testing.T) {
	t.Parallel()

	const detail = `{
		"title": "Acoustic echo cancellation",
		"publication_number": "US11234567B2",
		"abstract": "A method for cancelling acoustic echo.",
		"claims": ["1. A method comprising...", "2. The method of claim 1..."],
		"classifications": [{"code": "G10L21/0208", "description": "echo suppression", "leaf": true}],
		"events": [{"date": "2021-01-05", "title": "Publication of US11234567B2", "type": "legal-status"}],
		"patent_citations": {"original": [{"publication_number": "US9876543B1"}]},
		"worldwide_applications": {"2019": [{"application_number": "US201916355123", "country_code": "US"}]}
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google_patents_details", q.Get("engine"))
		assert.Equal(t, "patent/US11234567B2/en", q.Get("patent_id"))
		assert.Equal(t, "claims,description", q.Get("fields"))

		_, _ = w.Write([]byte(detail))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Details(context.Background(), DetailRequest{
		ID:     "patent/US11234567B2/en",
		Fields: []string{"claims", "description"},
	})

	require.NoError(t, err)
	assert.Equal(t, "US11234567B2", got.PublicationNumber)
	require.Len(t, got.Claims, 2)
	assert.True(t, strings.HasPrefix(got.Claims[0], "1. A method"))
	require.Len(t, got.Classifications, 1)
	assert.Equal(t, "G10L21/0208", got.Classifications[0].Code)
	require.Len(t, got.PatentCitations.Original, 1)
	assert.Equal(t, "US9876543B1", got.PatentCitations.Original[0].PublicationNumber)
	assert.JSONEq(t, detail, string(got.Raw))
}

func TestDetails_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Details(context.Background(), DetailRequest{ID: "patent/US0000000A/en"})

	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestDetails_ErrorField_IsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Invalid patent_id."}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Details(context.Background(), DetailRequest{ID: "patent/BOGUS/en"})

	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
}
