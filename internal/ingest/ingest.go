// Package ingest seeds the local corpus from bulk sources. A source is
// downloaded over HTTP or FTP (or read from a local path), parsed per
// format into canonical records, and upserted into the store in batches.
// Supported formats are CSV, JSON, XLSX, and XML, each optionally inside
// a single-file ZIP container.
package ingest

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/config"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/resilience"
	"github.com/lattice-ip/priorart-engine/internal/store"
)

const (
	formatCSV  = "csv"
	formatJSON = "json"
	formatXLSX = "xlsx"
	formatXML  = "xml"
	formatZIP  = "zip"

	defaultBatchSize = 500
)

// Source names one corpus input.
type Source struct {
	// URL locates the file: http(s), ftp, file, or a bare local path.
	URL string

	// Format overrides extension-based inference: csv, json, xlsx, xml
	// or zip.
	Format string

	// Sheet selects the XLSX worksheet by name. First sheet when empty.
	Sheet string

	// Element names the repeated XML record element. "record" when empty.
	Element string

	// ETag from a previous import enables a conditional HTTP get.
	ETag string
}

// Report summarizes one import.
type Report struct {
	Source    string
	Parsed    int
	Skipped   int
	Upserted  int
	Unchanged bool
	ETag      string
}

// Importer drives corpus imports end to end.
type Importer struct {
	store   store.Store
	http    *HTTPFetcher
	ftp     *FTPFetcher
	tempDir string
	batch   int
	nowFunc func() time.Time
}

// Option customizes an Importer.
type Option func(*Importer)

// WithBatchSize overrides the upsert batch size.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batch = n
		}
	}
}

// WithNow fixes the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(im *Importer) { im.nowFunc = fn }
}

// WithHTTPFetcher swaps the HTTP downloader, for tests.
func WithHTTPFetcher(f *HTTPFetcher) Option {
	return func(im *Importer) { im.http = f }
}

// NewImporter wires an Importer from config. The retry policy matches the
// one used for provider calls.
func NewImporter(cfg *config.Config, st store.Store, opts ...Option) *Importer {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMS, cfg.Retry.MaxDelayMS, 0, cfg.Retry.JitterFactor)

	im := &Importer{
		store: st,
		http: NewHTTPFetcher(HTTPOptions{
			HostInterval: time.Duration(cfg.Ingest.HostIntervalMS) * time.Millisecond,
			Retry:        retry,
		}),
		ftp:     NewFTPFetcher(FTPOptions{}),
		tempDir: cfg.Ingest.TempDir,
		batch:   defaultBatchSize,
		nowFunc: time.Now,
	}
	if im.tempDir == "" {
		im.tempDir = os.TempDir()
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import downloads, parses, and upserts one source. Rows without a usable
// identifier count as skipped, never fatal. A parse or storage error aborts
// the import; the report still carries whatever was upserted before it.
func (im *Importer) Import(ctx context.Context, src Source) (*Report, error) {
	// Cancelling on return unblocks the parser goroutine if the import
	// aborts mid-stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rep := &Report{Source: src.URL, ETag: src.ETag}
	log := zap.L().With(zap.String("source", src.URL))

	filePath, cleanup, err := im.materialize(ctx, src, rep)
	if err != nil {
		return rep, err
	}
	defer cleanup()
	if rep.Unchanged {
		log.Info("corpus source unchanged", zap.String("etag", rep.ETag))
		return rep, nil
	}

	format, err := formatOf(src.Format, filePath)
	if err != nil {
		return rep, err
	}
	if format == formatZIP {
		inner, err := extractArchive(filePath, im.tempDir)
		if err != nil {
			return rep, err
		}
		defer os.Remove(inner)
		filePath = inner
		if format, err = formatOf("", inner); err != nil {
			return rep, err
		}
		if format == formatZIP {
			return rep, eris.New("ingest: nested archives are not supported")
		}
	}

	var (
		records <-chan fileRecord
		errs    <-chan error
	)
	if format == formatXLSX {
		records, errs = streamXLSX(ctx, filePath, src.Sheet)
	} else {
		f, err := os.Open(filePath)
		if err != nil {
			return rep, eris.Wrap(err, "ingest: open source file")
		}
		defer f.Close()
		switch format {
		case formatCSV:
			records, errs = streamCSV(ctx, f, 0)
		case formatJSON:
			records, errs = streamJSON(ctx, f)
		case formatXML:
			records, errs = streamXML(ctx, f, src.Element)
		}
	}

	now := im.nowFunc().UTC()
	batch := make([]model.CanonicalRecord, 0, im.batch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.store.BulkUpsertRecords(ctx, batch)
		if err != nil {
			return eris.Wrap(err, "ingest: upsert batch")
		}
		rep.Upserted += n
		batch = batch[:0]
		return nil
	}

	for fr := range records {
		rec, ok := fr.toRecord(now)
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Parsed++
		batch = append(batch, rec)
		if len(batch) >= im.batch {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if err := <-errs; err != nil {
		return rep, err
	}
	if err := flush(); err != nil {
		return rep, err
	}

	log.Info("corpus source imported",
		zap.String("format", format),
		zap.Int("parsed", rep.Parsed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("upserted", rep.Upserted),
	)
	return rep, nil
}

// materialize stages the source as a local file. Local paths are used in
// place; remote bodies are spooled into the temp directory under a name
// that keeps the source extension, so format inference works on the copy.
func (im *Importer) materialize(ctx context.Context, src Source, rep *Report) (string, func(), error) {
	nop := func() {}

	u, err := url.Parse(src.URL)
	if err != nil {
		return "", nop, eris.Wrapf(err, "ingest: parse source url %s", src.URL)
	}

	switch u.Scheme {
	case "", "file":
		p := src.URL
		if u.Scheme == "file" {
			p = u.Path
		}
		if _, err := os.Stat(p); err != nil {
			return "", nop, eris.Wrapf(err, "ingest: stat local source %s", p)
		}
		return p, nop, nil

	case "http", "https":
		// The conditional variant also captures the server's ETag on a
		// first fetch, when src.ETag is still empty.
		body, newTag, changed, err := im.http.DownloadIfChanged(ctx, src.URL, src.ETag)
		if err != nil {
			return "", nop, err
		}
		if !changed {
			rep.Unchanged = true
			return "", nop, nil
		}
		rep.ETag = newTag
		return im.spool(body, path.Ext(u.Path))

	case "ftp":
		body, err := im.ftp.Download(ctx, src.URL)
		if err != nil {
			return "", nop, err
		}
		return im.spool(body, path.Ext(u.Path))

	default:
		return "", nop, eris.Errorf("ingest: unsupported scheme %q", u.Scheme)
	}
}

// spool drains the body into a temp file and returns its path with a
// remove func.
func (im *Importer) spool(body io.ReadCloser, ext string) (string, func(), error) {
	defer body.Close()
	nop := func() {}

	if err := os.MkdirAll(im.tempDir, 0o755); err != nil {
		return "", nop, eris.Wrap(err, "ingest: create temp dir")
	}
	f, err := os.CreateTemp(im.tempDir, "corpus-*"+ext)
	if err != nil {
		return "", nop, eris.Wrap(err, "ingest: create temp file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nop, eris.Wrap(err, "ingest: spool source")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nop, eris.Wrap(err, "ingest: close temp file")
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}

// formatOf picks the parser. An explicit format wins; otherwise the file
// extension decides.
func formatOf(explicit, filePath string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(explicit))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	}
	switch f {
	case formatCSV, formatJSON, formatXLSX, formatXML, formatZIP:
		return f, nil
	case "":
		return "", eris.Errorf("ingest: cannot infer format of %s, set one explicitly", filepath.Base(filePath))
	default:
		return "", eris.Errorf("ingest: unsupported format %q", f)
	}
}
