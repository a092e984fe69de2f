package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lattice-ip/priorart-engine/internal/merge"
	"github.com/lattice-ip/priorart-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	bundle_id       TEXT NOT NULL,
	bundle_title    TEXT NOT NULL DEFAULT '',
	hints           TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'PENDING',
	credits_charged INTEGER NOT NULL DEFAULT 0,
	external_calls  INTEGER NOT NULL DEFAULT 0,
	cost_estimate   REAL NOT NULL DEFAULT 0,
	warnings        TEXT,
	error           TEXT NOT NULL DEFAULT '',
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS query_variants (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	label         TEXT NOT NULL,
	query         TEXT NOT NULL,
	result_count  INTEGER NOT NULL,
	page          INTEGER NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL DEFAULT 'pending',
	local_hits    INTEGER NOT NULL DEFAULT 0,
	provider_hits INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, label)
);

CREATE TABLE IF NOT EXISTS raw_results (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	variant_label TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	payload       BLOB NOT NULL,
	fetched_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	identifier       TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	abstract         TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	publication_date DATETIME,
	assignee         TEXT NOT NULL DEFAULT '',
	inventors        TEXT NOT NULL DEFAULT '[]',
	classifications  TEXT NOT NULL DEFAULT '[]',
	link             TEXT NOT NULL DEFAULT '',
	first_seen_at    DATETIME NOT NULL,
	last_seen_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS variant_hits (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	variant_label TEXT NOT NULL,
	identifier    TEXT NOT NULL,
	hit_rank      INTEGER NOT NULL,
	source        TEXT NOT NULL,
	found_at      DATETIME NOT NULL,
	PRIMARY KEY (run_id, variant_label, identifier)
);

CREATE TABLE IF NOT EXISTS unified_results (
	run_id                 TEXT NOT NULL REFERENCES runs(id),
	identifier             TEXT NOT NULL,
	intersection           TEXT NOT NULL,
	score                  REAL NOT NULL,
	position               INTEGER NOT NULL,
	shortlisted            INTEGER NOT NULL DEFAULT 0,
	override               TEXT NOT NULL DEFAULT '',
	title_density          REAL NOT NULL DEFAULT 0,
	snippet_density        REAL NOT NULL DEFAULT 0,
	variant_signal         REAL NOT NULL DEFAULT 0,
	classification_overlap REAL NOT NULL DEFAULT 0,
	recency                REAL NOT NULL DEFAULT 0,
	consensus_bonus        REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, identifier)
);

CREATE TABLE IF NOT EXISTS details (
	identifier     TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	claims         TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	citations      TEXT NOT NULL DEFAULT '[]',
	legal_events   TEXT NOT NULL DEFAULT '[]',
	family_members TEXT NOT NULL DEFAULT '[]',
	raw            BLOB,
	fetched_at     DATETIME NOT NULL,
	error          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_bundle ON runs(bundle_id);
CREATE INDEX IF NOT EXISTS idx_raw_results_run ON raw_results(run_id);
CREATE INDEX IF NOT EXISTS idx_variant_hits_run ON variant_hits(run_id);
CREATE INDEX IF NOT EXISTS idx_unified_results_position ON unified_results(run_id, position);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, bundleID, bundleTitle string, hints []string, credits int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	hintsJSON, err := marshalStrings(hints)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal hints")
	}

	// The credit charge is part of the insert so a run can never exist
	// without its charge recorded.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, bundle_id, bundle_title, hints, status, credits_charged, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, bundleID, bundleTitle, hintsJSON, string(model.RunStatusPending), credits, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:             id,
		BundleID:       bundleID,
		BundleTitle:    bundleTitle,
		Hints:          hints,
		Status:         model.RunStatusPending,
		CreditsCharged: credits,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bundle_id, bundle_title, hints, status, credits_charged, external_calls, cost_estimate,
		        warnings, error, started_at, finished_at, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, bundle_id, bundle_title, hints, status, credits_charged, external_calls, cost_estimate,
	                 warnings, error, started_at, finished_at, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BundleID != "" {
		query += ` AND bundle_id = ?`
		args = append(args, filter.BundleID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, warnings []string, errMsg string, cost float64) error {
	now := time.Now().UTC()

	warningsJSON, err := marshalStrings(warnings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, warnings = ?, error = ?, cost_estimate = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		string(status), warningsJSON, errMsg, cost, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) RecordExternalCall(ctx context.Context, runID string, n int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET external_calls = external_calls + ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record external call %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CreateVariants(ctx context.Context, variants []model.QueryVariant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin variants tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, v := range variants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_variants (run_id, label, query, result_count, page, source, outcome, local_hits, provider_hits, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.RunID, string(v.Label), v.Query, v.Count, v.Page, string(v.Source), string(v.Outcome), v.LocalHits, v.ProviderHits, v.Error,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert variant %s/%s", v.RunID, v.Label)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit variants")
}

func (s *SQLiteStore) UpdateVariant(ctx context.Context, v model.QueryVariant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE query_variants SET source = ?, outcome = ?, local_hits = ?, provider_hits = ?, error = ?
		 WHERE run_id = ? AND label = ?`,
		string(v.Source), string(v.Outcome), v.LocalHits, v.ProviderHits, v.Error, v.RunID, string(v.Label),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update variant %s/%s", v.RunID, v.Label)
	}
	return checkRowsAffected(res, "variant", v.RunID+"/"+string(v.Label))
}

func (s *SQLiteStore) ListVariants(ctx context.Context, runID string) ([]model.QueryVariant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, label, query, result_count, page, source, outcome, local_hits, provider_hits, error
		 FROM query_variants WHERE run_id = ?
		 ORDER BY CASE label WHEN 'broad' THEN 0 WHEN 'baseline' THEN 1 ELSE 2 END`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list variants")
	}
	defer rows.Close()

	var out []model.QueryVariant
	for rows.Next() {
		var v model.QueryVariant
		if err := rows.Scan(&v.RunID, &v.Label, &v.Query, &v.Count, &v.Page, &v.Source, &v.Outcome, &v.LocalHits, &v.ProviderHits, &v.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan variant")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list variants iterate")
}

func (s *SQLiteStore) SaveRawResult(ctx context.Context, raw model.RawResult) error {
	id := raw.ID
	if id == "" {
		id = uuid.New().String()
	}
	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_results (id, run_id, variant_label, endpoint, payload, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, raw.RunID, string(raw.VariantLabel), raw.Endpoint, raw.Payload, fetchedAt,
	)
	return eris.Wrap(err, "sqlite: save raw result")
}

func (s *SQLiteStore) ListRawResults(ctx context.Context, runID string) ([]model.RawResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, variant_label, endpoint, payload, fetched_at FROM raw_results
		 WHERE run_id = ? ORDER BY fetched_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw results")
	}
	defer rows.Close()

	var out []model.RawResult
	for rows.Next() {
		var r model.RawResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.VariantLabel, &r.Endpoint, &r.Payload, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list raw results iterate")
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec model.CanonicalRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record tx")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanRecord(tx.QueryRowContext(ctx, selectRecordSQLite+` WHERE identifier = ?`, rec.Identifier))
	if err != nil {
		return err
	}

	if existing != nil {
		merged := *existing
		merge.Record(&merged, rec)
		if err := execUpsertRecordSQLite(ctx, tx, merged, true); err != nil {
			return err
		}
	} else {
		if err := execUpsertRecordSQLite(ctx, tx, rec, false); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, identifier string) (*model.CanonicalRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecordSQLite+` WHERE identifier = ?`, identifier))
}

func (s *SQLiteStore) SearchRecords(ctx context.Context, tokens []string, limit int) ([]model.CanonicalRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	var clauses []string
	var args []any
	for _, tok := range tokens {
		pat := "%" + tok + "%"
		clauses = append(clauses, `(title LIKE ? OR abstract LIKE ?)`)
		args = append(args, pat, pat)
	}
	query := selectRecordSQLite + ` WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY identifier LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: search records iterate")
}

func (s *SQLiteStore) BulkUpsertRecords(ctx context.Context, recs []model.CanonicalRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range recs {
		existing, err := scanRecord(tx.QueryRowContext(ctx, selectRecordSQLite+` WHERE identifier = ?`, rec.Identifier))
		if err != nil {
			return 0, err
		}
		if existing != nil {
			merged := *existing
			merge.Record(&merged, rec)
			err = execUpsertRecordSQLite(ctx, tx, merged, true)
		} else {
			err = execUpsertRecordSQLite(ctx, tx, rec, false)
		}
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk records")
	}
	return len(recs), nil
}

func (s *SQLiteStore) CreateVariantHit(ctx context.Context, hit model.VariantHit) error {
	foundAt := hit.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now().UTC()
	}

	// Re-running a variant must not duplicate or reorder existing hits.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variant_hits (run_id, variant_label, identifier, hit_rank, source, found_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, variant_label, identifier) DO NOTHING`,
		hit.RunID, string(hit.VariantLabel), hit.Identifier, hit.Rank, string(hit.Source), foundAt,
	)
	return eris.Wrap(err, "sqlite: create variant hit")
}

func (s *SQLiteStore) ListVariantHits(ctx context.Context, runID string) ([]model.VariantHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, variant_label, identifier, hit_rank, source, found_at FROM variant_hits
		 WHERE run_id = ? ORDER BY variant_label, hit_rank`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list variant hits")
	}
	defer rows.Close()

	var out []model.VariantHit
	for rows.Next() {
		var h model.VariantHit
		if err := rows.Scan(&h.RunID, &h.VariantLabel, &h.Identifier, &h.Rank, &h.Source, &h.FoundAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan variant hit")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list variant hits iterate")
}

func (s *SQLiteStore) ReplaceUnifiedResults(ctx context.Context, runID string, results []model.UnifiedResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin results tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// Overrides are sticky: collect the stored ones so a rescore cannot
	// drop a pin the caller did not know about.
	overrides := make(map[string]model.ShortlistOverride)
	rows, err := tx.QueryContext(ctx,
		`SELECT identifier, override FROM unified_results WHERE run_id = ? AND override != ''`,
		runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: read overrides")
	}
	for rows.Next() {
		var id string
		var ov string
		if err := rows.Scan(&id, &ov); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan override")
		}
		overrides[id] = model.ShortlistOverride(ov)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return eris.Wrap(err, "sqlite: read overrides iterate")
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unified_results WHERE run_id = ?`, runID); err != nil {
		return eris.Wrap(err, "sqlite: delete unified results")
	}

	for _, r := range results {
		ov := r.Override
		if ov == model.OverrideNone {
			ov = overrides[r.Identifier]
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO unified_results
			 (run_id, identifier, intersection, score, position, shortlisted, override,
			  title_density, snippet_density, variant_signal, classification_overlap, recency, consensus_bonus)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Identifier, string(r.Intersection), r.Score, r.Position, r.Shortlisted, string(ov),
			r.TitleDensity, r.SnippetDensity, r.VariantSignal, r.ClassificationOverlap, r.Recency, r.ConsensusBonus,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert unified result %s", r.Identifier)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit unified results")
}

func (s *SQLiteStore) ListUnifiedResults(ctx context.Context, runID string) ([]model.UnifiedResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, identifier, intersection, score, position, shortlisted, override,
		        title_density, snippet_density, variant_signal, classification_overlap, recency, consensus_bonus
		 FROM unified_results WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unified results")
	}
	defer rows.Close()

	var out []model.UnifiedResult
	for rows.Next() {
		var r model.UnifiedResult
		if err := rows.Scan(&r.RunID, &r.Identifier, &r.Intersection, &r.Score, &r.Position, &r.Shortlisted, &r.Override,
			&r.TitleDensity, &r.SnippetDensity, &r.VariantSignal, &r.ClassificationOverlap, &r.Recency, &r.ConsensusBonus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unified result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unified results iterate")
}

func (s *SQLiteStore) SetShortlistOverride(ctx context.Context, runID, identifier string, override model.ShortlistOverride) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unified_results SET override = ? WHERE run_id = ? AND identifier = ?`,
		string(override), runID, identifier,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set override %s/%s", runID, identifier)
	}
	return checkRowsAffected(res, "unified_result", runID+"/"+identifier)
}

func (s *SQLiteStore) UpsertDetail(ctx context.Context, d model.DetailRecord) error {
	citations, err := marshalStrings(d.Citations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citations")
	}
	events, err := marshalStrings(d.LegalEvents)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal legal events")
	}
	family, err := marshalStrings(d.FamilyMembers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal family members")
	}

	fetchedAt := d.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO details (identifier, status, claims, description, citations, legal_events, family_members, raw, fetched_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (identifier) DO UPDATE SET
		   status = excluded.status, claims = excluded.claims, description = excluded.description,
		   citations = excluded.citations, legal_events = excluded.legal_events, family_members = excluded.family_members,
		   raw = excluded.raw, fetched_at = excluded.fetched_at, error = excluded.error`,
		d.Identifier, string(d.Status), d.Claims, d.Description, citations, events, family, d.Raw, fetchedAt, d.Error,
	)
	return eris.Wrap(err, "sqlite: upsert detail")
}

func (s *SQLiteStore) GetDetail(ctx context.Context, identifier string) (*model.DetailRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identifier, status, claims, description, citations, legal_events, family_members, raw, fetched_at, error
		 FROM details WHERE identifier = ?`,
		identifier,
	)

	var d model.DetailRecord
	var citations, events, family string
	err := row.Scan(&d.Identifier, &d.Status, &d.Claims, &d.Description, &citations, &events, &family, &d.Raw, &d.FetchedAt, &d.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get detail")
	}
	if err := unmarshalStrings(citations, &d.Citations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal citations")
	}
	if err := unmarshalStrings(events, &d.LegalEvents); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal legal events")
	}
	if err := unmarshalStrings(family, &d.FamilyMembers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal family members")
	}
	return &d, nil
}

func (s *SQLiteStore) RunStats(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{ByStatus: make(map[string]int)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(external_calls), 0), COALESCE(SUM(cost_estimate), 0) FROM runs`,
	)
	if err := row.Scan(&stats.TotalRuns, &stats.ExternalCalls, &stats.TotalCost); err != nil {
		return nil, eris.Wrap(err, "sqlite: run totals")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: runs by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: runs by status iterate")
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&stats.Records); err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM details`).Scan(&stats.Details); err != nil {
		return nil, eris.Wrap(err, "sqlite: count details")
	}
	return stats, nil
}

// helpers

const selectRecordSQLite = `SELECT identifier, title, abstract, snippet, publication_date, assignee, inventors, classifications, link, first_seen_at, last_seen_at FROM records`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpsertRecordSQLite(ctx context.Context, tx execer, rec model.CanonicalRecord, update bool) error {
	inventors, err := marshalStrings(rec.Inventors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal inventors")
	}
	classifications, err := marshalStrings(rec.Classifications)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal classifications")
	}

	var pub sql.NullTime
	if rec.PublicationDate != nil {
		pub = sql.NullTime{Time: *rec.PublicationDate, Valid: true}
	}

	if update {
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET title = ?, abstract = ?, snippet = ?, publication_date = ?, assignee = ?,
			        inventors = ?, classifications = ?, link = ?, first_seen_at = ?, last_seen_at = ?
			 WHERE identifier = ?`,
			rec.Title, rec.Abstract, rec.Snippet, pub, rec.Assignee,
			inventors, classifications, rec.Link, rec.FirstSeenAt, rec.LastSeenAt, rec.Identifier,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (identifier, title, abstract, snippet, publication_date, assignee, inventors, classifications, link, first_seen_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Identifier, rec.Title, rec.Abstract, rec.Snippet, pub, rec.Assignee,
			inventors, classifications, rec.Link, rec.FirstSeenAt, rec.LastSeenAt,
		)
	}
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.Identifier)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var hints string
	var warnings sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.BundleID, &r.BundleTitle, &hints, &r.Status, &r.CreditsCharged, &r.ExternalCalls, &r.CostEstimate,
		&warnings, &r.Error, &r.StartedAt, &finished, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := unmarshalStrings(hints, &r.Hints); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hints")
	}
	if warnings.Valid {
		if err := unmarshalStrings(warnings.String, &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

func scanRecord(row scannable) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	var pub sql.NullTime
	var inventors, classifications string

	err := row.Scan(&rec.Identifier, &rec.Title, &rec.Abstract, &rec.Snippet, &pub, &rec.Assignee,
		&inventors, &classifications, &rec.Link, &rec.FirstSeenAt, &rec.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if pub.Valid {
		rec.PublicationDate = &pub.Time
	}
	if err := unmarshalStrings(inventors, &rec.Inventors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal inventors")
	}
	if err := unmarshalStrings(classifications, &rec.Classifications); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal classifications")
	}
	return &rec, nil
}

func marshalStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(ss)
	return string(b), err
}

func unmarshalStrings(raw string, dst *[]string) error {
	if raw == "" || raw == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
