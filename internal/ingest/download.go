package ingest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/lattice-ip/priorart-engine/internal/resilience"
)

// HTTPOptions configures the HTTP downloader.
type HTTPOptions struct {
	// UserAgent identifies the importer to corpus hosts.
	UserAgent string

	// Timeout bounds a whole request including the body read. Default: 60s.
	Timeout time.Duration

	// HostInterval is the minimum spacing between requests to the same
	// host. Default: 500ms.
	HostInterval time.Duration

	// Retry is the retry policy for transient failures.
	Retry resilience.RetryConfig
}

// HTTPFetcher downloads corpus files with per-host politeness spacing,
// conditional gets, and retries on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher with sane defaults filled in.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "priorart-engine/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HostInterval <= 0 {
		opts.HostInterval = 500 * time.Millisecond
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Download fetches the URL and returns the open body. The caller closes it.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.get(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadIfChanged fetches the URL only when the server's ETag differs from
// the given one. When the server answers 304 the body is nil, changed is
// false, and the old ETag is returned unchanged.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	resp, err := f.get(ctx, rawURL, etag)
	if err != nil {
		return nil, "", false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return nil, etag, false, nil
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}

// get performs one rate-limited request with retries. On success the
// response body is open and the status is 200 or 304.
func (f *HTTPFetcher) get(ctx context.Context, rawURL, etag string) (*http.Response, error) {
	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*http.Response, error) {
		if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: wait for host slot")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: build request for %s", rawURL)
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "ingest: get %s", rawURL), 0)
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotModified:
			return resp, nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, resilience.NewNotFoundError(eris.Errorf("ingest: source not found: %s", rawURL), rawURL)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			// Corpus hosts rate-limit as backpressure, not billing, so a
			// 429 retries here unlike at the search provider.
			return nil, resilience.NewTransientError(
				eris.Errorf("ingest: %s answered %d", rawURL, resp.StatusCode), resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, eris.Errorf("ingest: %s answered unexpected status %d", rawURL, resp.StatusCode)
		}
	})
}

// limiterFor returns the politeness limiter for the URL's host, creating it
// on first use. Burst stays at 1: bulk downloads gain nothing from bursting
// and hosts notice.
func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.opts.HostInterval), 1)
		f.limiters[host] = lim
	}
	return lim
}
