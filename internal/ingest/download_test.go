package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/resilience"
)

func newTestHTTPFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		Timeout:      5 * time.Second,
		HostInterval: time.Millisecond,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
	})
}

func TestHTTPDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("id,title\nUS1B2,Probe\n"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/records.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "id,title\nUS1B2,Probe\n", string(data))
}

func TestHTTPDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDownload_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	_, err := f.Download(context.Background(), srv.URL+"/throttled")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDownload_NotFoundDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	_, err := f.Download(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadIfChanged_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("should not be fetched"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/res", `"v1"`)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, `"v1"`, etag)
}

func TestDownloadIfChanged_Changed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Write([]byte("new content"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/res", `"v1"`)
	require.NoError(t, err)
	require.NotNil(t, body)
	defer body.Close()

	assert.True(t, changed)
	assert.Equal(t, `"v2"`, etag)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "new content", string(data))
}

func TestLimiterFor_PerHost(t *testing.T) {
	f := newTestHTTPFetcher()

	a1 := f.limiterFor("https://bulk.uspto.example/a.csv")
	a2 := f.limiterFor("https://bulk.uspto.example/b.csv")
	b := f.limiterFor("https://data.epo.example/a.csv")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}
