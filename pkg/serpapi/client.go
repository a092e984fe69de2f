// Package serpapi provides a client for the SerpApi Google Patents engines.
// Retries are the caller's concern: the client maps provider failures onto
// the resilience error taxonomy and returns immediately.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/resilience"
)

const (
	searchEngine = "google_patents"
	detailEngine = "google_patents_details"

	// maxErrBody bounds how much of a provider error body ends up in error
	// messages and persisted payloads.
	maxErrBody = 512
)

// noResultsMarker appears in the provider's error field when a query simply
// matched nothing. That is an empty page, not a failure.
const noResultsMarker = "hasn't returned any results"

// Client defines the provider operations used by the engine.
type Client interface {
	// Search runs one paged patent search.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	// Details fetches the full document record for one provider id.
	Details(ctx context.Context, req DetailRequest) (*DetailResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a SerpApi client. The api key is sent with every request
// and never surfaces in logs or error messages.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://serpapi.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("engine", searchEngine)
	params.Set("q", req.Query)
	if req.Num > 0 {
		params.Set("num", strconv.Itoa(req.Num))
	}
	if req.Page > 1 {
		params.Set("page", strconv.Itoa(req.Page))
	}

	body, err := c.get(ctx, params, "")
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: search")
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "serpapi: unmarshal search response")
	}
	result.Raw = body

	if result.Error != "" {
		if strings.Contains(result.Error, noResultsMarker) {
			result.Error = ""
			result.OrganicResults = nil
			return &result, nil
		}
		return nil, eris.Errorf("serpapi: search error: %s", result.Error)
	}

	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, req DetailRequest) (*DetailResponse, error) {
	params := url.Values{}
	params.Set("engine", detailEngine)
	params.Set("patent_id", req.ID)
	if len(req.Fields) > 0 {
		params.Set("fields", strings.Join(req.Fields, ","))
	}

	body, err := c.get(ctx, params, req.ID)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: details")
	}

	var result DetailResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "serpapi: unmarshal details response")
	}
	result.Raw = body

	if result.Error != "" {
		return nil, resilience.NewNotFoundError(eris.Errorf("serpapi: details error: %s", result.Error), req.ID)
	}

	return &result, nil
}

// get performs one authenticated GET and maps failure statuses onto the
// resilience taxonomy. Error messages carry status plus a truncated body,
// never the request URL, so the api key cannot leak into persisted errors.
func (c *httpClient) get(ctx context.Context, params url.Values, id string) ([]byte, error) {
	params.Set("api_key", c.apiKey)
	reqURL := c.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the full request URL, api key included. Keep
		// only the inner error; its net.Error chain still drives timeout
		// detection and retry classification.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewQuotaError(
			eris.Errorf("status 429: %s", truncate(body)),
			resp.Header.Get("Retry-After"),
		)
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.NewNotFoundError(eris.Errorf("status 404: %s", truncate(body)), id)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
			resp.StatusCode,
		)
	default:
		return nil, eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrBody {
		return string(body[:maxErrBody]) + "..."
	}
	return string(body)
}
