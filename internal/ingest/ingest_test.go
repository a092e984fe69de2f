package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/store"
)

func newIngestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestImporter(t *testing.T, st store.Store, opts ...Option) *Importer {
	t.Helper()
	cfg := &config.Config{
		Retry:  config.RetryConfig{MaxAttempts: 2, BaseDelayMS: 1, MaxDelayMS: 2},
		Ingest: config.IngestConfig{TempDir: t.TempDir(), HostIntervalMS: 1},
	}
	return NewImporter(cfg, st, opts...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCSV = `publication_number,title,abstract,pub_date,cpc,inventor
US11000001B2,Acoustic resonance probe,Measures membrane drift.,2024-05-01,G01N 29/036,"Doe, Jane"
,Row without identifier,junk,,,
US11000002A1,Membrane sensor array,Distributed readout.,2023-11-12,H01L 41/08,Nguyen Minh
`

func TestImport_LocalCSV(t *testing.T) {
	st := newIngestStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	im := newTestImporter(t, st, WithNow(func() time.Time { return now }))

	rep, err := im.Import(context.Background(), Source{URL: writeFile(t, "grants.csv", sampleCSV)})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Parsed)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 2, rep.Upserted)
	assert.False(t, rep.Unchanged)

	rec, err := st.GetRecord(context.Background(), "US11000001B2")
	require.NoError(t, err)
	assert.Equal(t, "Acoustic resonance probe", rec.Title)
	assert.Equal(t, []string{"G01N29/036"}, rec.Classifications)
	assert.Equal(t, []string{"Doe, Jane"}, rec.Inventors)
	require.NotNil(t, rec.PublicationDate)
	assert.Equal(t, "2024-05-01", rec.PublicationDate.Format("2006-01-02"))
	assert.Equal(t, now, rec.FirstSeenAt.UTC())

	rec2, err := st.GetRecord(context.Background(), "US11000002A1")
	require.NoError(t, err)
	assert.Equal(t, "Membrane sensor array", rec2.Title)
}

func TestImport_FileURLAndExplicitFormat(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	path := writeFile(t, "grants.dat", "id,title\nUS1B2,Probe\n")
	rep, err := im.Import(context.Background(), Source{URL: "file://" + path, Format: "csv"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Upserted)

	_, err = st.GetRecord(context.Background(), "US1B2")
	require.NoError(t, err)
}

func TestImport_ZIPContainer(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	zipPath := createTestZIP(t, map[string]string{
		"2024/week18.csv": sampleCSV,
	})

	rep, err := im.Import(context.Background(), Source{URL: zipPath})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Parsed)
	assert.Equal(t, 2, rep.Upserted)

	_, err = st.GetRecord(context.Background(), "US11000002A1")
	require.NoError(t, err)
}

func TestImport_HTTPSourceWithETag(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"week18"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"week18"`)
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	first, err := im.Import(context.Background(), Source{URL: srv.URL + "/grants.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Upserted)

	second, err := im.Import(context.Background(), Source{URL: srv.URL + "/grants.csv", ETag: first.ETag})
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Equal(t, 0, second.Parsed)
	assert.Equal(t, `"week18"`, second.ETag)
}

func TestImport_HTTPSourceETagCaptured(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v7"`)
		w.Write([]byte("id,title\nUS1B2,Probe\n"))
	}))
	defer srv.Close()

	rep, err := im.Import(context.Background(), Source{URL: srv.URL + "/g.csv", ETag: `"v6"`})
	require.NoError(t, err)
	assert.False(t, rep.Unchanged)
	assert.Equal(t, `"v7"`, rep.ETag)
	assert.Equal(t, 1, rep.Upserted)
}

func TestImport_BatchedUpserts(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st, WithBatchSize(2))

	var sb strings.Builder
	sb.WriteString("id,title\n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&sb, "US1200000%dB2,Probe %d\n", i, i)
	}

	rep, err := im.Import(context.Background(), Source{URL: writeFile(t, "many.csv", sb.String())})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Parsed)
	assert.Equal(t, 5, rep.Upserted)

	for i := 1; i <= 5; i++ {
		_, err := st.GetRecord(context.Background(), fmt.Sprintf("US1200000%dB2", i))
		require.NoError(t, err)
	}
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)
	path := writeFile(t, "grants.csv", sampleCSV)

	_, err := im.Import(context.Background(), Source{URL: path})
	require.NoError(t, err)
	rep, err := im.Import(context.Background(), Source{URL: path})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Upserted)

	rec, err := st.GetRecord(context.Background(), "US11000001B2")
	require.NoError(t, err)
	assert.Equal(t, "Acoustic resonance probe", rec.Title)
}

func TestImport_UnknownFormat(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	_, err := im.Import(context.Background(), Source{URL: writeFile(t, "grants.dat", "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer format")
}

func TestImport_UnsupportedScheme(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	_, err := im.Import(context.Background(), Source{URL: "gopher://example.com/grants.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestImport_MissingLocalFile(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st)

	_, err := im.Import(context.Background(), Source{URL: filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
}

func TestImport_ParseErrorKeepsEarlierBatches(t *testing.T) {
	st := newIngestStore(t)
	im := newTestImporter(t, st, WithBatchSize(1))

	input := "[{\"identifier\": \"US9000001B2\", \"title\": \"Kept\"}, {\"identifier\": 42}]"
	rep, err := im.Import(context.Background(), Source{URL: writeFile(t, "mixed.json", input)})
	require.Error(t, err)
	assert.Equal(t, 1, rep.Upserted)

	rec, err := st.GetRecord(context.Background(), "US9000001B2")
	require.NoError(t, err)
	assert.Equal(t, "Kept", rec.Title)
}
