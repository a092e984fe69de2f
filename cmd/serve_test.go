//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/store"
)

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestRouter(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	// Nil engine: POST /runs accepts and the goroutine skips execution.
	return buildRouter(context.Background(), st, nil, ratelimit.New(ratelimit.Config{}))
}

func TestBuildRouter_Health(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_ListRuns_Empty(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body.Runs)
}

func TestBuildRouter_ListRuns_BadLimit(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "limit must be a positive integer")
}

func TestBuildRouter_GetRun(t *testing.T) {
	st := newServeStore(t)
	router := newTestRouter(t, st)

	run, err := st.CreateRun(context.Background(), "bndl-001", "Acoustic dampening", nil, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Run      model.Run            `json:"run"`
		Variants []model.QueryVariant `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, run.ID, body.Run.ID)
	assert.Equal(t, "bndl-001", body.Run.BundleID)
}

func TestBuildRouter_GetRun_NotFound(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestBuildRouter_ResultsAndShortlist(t *testing.T) {
	st := newServeStore(t)
	router := newTestRouter(t, st)

	run, err := st.CreateRun(context.Background(), "bndl-002", "Damper rows", nil, 1)
	require.NoError(t, err)

	rows := []model.UnifiedResult{
		{RunID: run.ID, Identifier: "us1111111", Score: 0.9, Position: 1, Shortlisted: true},
		{RunID: run.ID, Identifier: "us2222222", Score: 0.4, Position: 2},
	}
	require.NoError(t, st.ReplaceUnifiedResults(context.Background(), run.ID, rows))

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID+"/results", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var results struct {
		Results []model.UnifiedResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	assert.Len(t, results.Results, 2)

	req = httptest.NewRequest(http.MethodGet, "/runs/"+run.ID+"/shortlist", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var short struct {
		Shortlist []model.UnifiedResult `json:"shortlist"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &short))
	require.Len(t, short.Shortlist, 1)
	assert.Equal(t, "us1111111", short.Shortlist[0].Identifier)
}

func TestBuildRouter_DetailNotFound(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodGet, "/records/us9999999/detail", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "detail not found")
}

func TestBuildRouter_SubmitRun_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestBuildRouter_SubmitRun_InvalidBundle(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	// Only one variant; a bundle needs all three labels.
	payload := []byte(`{"id":"bndl-bad","variants":[{"label":"broad","query":"engine noise"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "variants")
}

func TestBuildRouter_SubmitRun_Valid_NilEngine(t *testing.T) {
	router := newTestRouter(t, newServeStore(t))

	payload := []byte(`{
		"id": "bndl-003",
		"title": "Engine noise dampening",
		"variants": [
			{"label": "broad", "query": "engine noise"},
			{"label": "baseline", "query": "engine noise dampening material"},
			{"label": "narrow", "query": "laminated engine noise dampening panel"}
		]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "bndl-003", resp["bundle_id"])

	// Give the goroutine time to hit the nil-engine path.
	time.Sleep(10 * time.Millisecond)
}
