package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/db"
	"github.com/lattice-ip/priorart-engine/internal/merge"
	"github.com/lattice-ip/priorart-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":         `INSERT INTO runs (id, bundle_id, bundle_title, hints, status, credits_charged, started_at, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"set_run_status":     `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":            `SELECT id, bundle_id, bundle_title, hints, status, credits_charged, external_calls, cost_estimate, warnings, error, started_at, finished_at, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_variant_hit": `INSERT INTO variant_hits (run_id, variant_label, identifier, hit_rank, source, found_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (run_id, variant_label, identifier) DO NOTHING`,
	"get_record":         `SELECT identifier, title, abstract, snippet, publication_date, assignee, inventors, classifications, link, first_seen_at, last_seen_at FROM records WHERE identifier = $1`,
	"get_detail":         `SELECT identifier, status, claims, description, citations, legal_events, family_members, raw, fetched_at, error FROM details WHERE identifier = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., corpus imports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	bundle_id       TEXT NOT NULL,
	bundle_title    TEXT NOT NULL DEFAULT '',
	hints           JSONB NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'PENDING',
	credits_charged INTEGER NOT NULL DEFAULT 0,
	external_calls  INTEGER NOT NULL DEFAULT 0,
	cost_estimate   DOUBLE PRECISION NOT NULL DEFAULT 0,
	warnings        JSONB,
	error           TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
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
	payload       BYTEA NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	identifier       TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	abstract         TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	publication_date TIMESTAMPTZ,
	assignee         TEXT NOT NULL DEFAULT '',
	inventors        JSONB NOT NULL DEFAULT '[]',
	classifications  JSONB NOT NULL DEFAULT '[]',
	link             TEXT NOT NULL DEFAULT '',
	first_seen_at    TIMESTAMPTZ NOT NULL,
	last_seen_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS variant_hits (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	variant_label TEXT NOT NULL,
	identifier    TEXT NOT NULL,
	hit_rank      INTEGER NOT NULL,
	source        TEXT NOT NULL,
	found_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, variant_label, identifier)
);

CREATE TABLE IF NOT EXISTS unified_results (
	run_id                 TEXT NOT NULL REFERENCES runs(id),
	identifier             TEXT NOT NULL,
	intersection           TEXT NOT NULL,
	score                  DOUBLE PRECISION NOT NULL,
	position               INTEGER NOT NULL,
	shortlisted            BOOLEAN NOT NULL DEFAULT false,
	override               TEXT NOT NULL DEFAULT '',
	title_density          DOUBLE PRECISION NOT NULL DEFAULT 0,
	snippet_density        DOUBLE PRECISION NOT NULL DEFAULT 0,
	variant_signal         DOUBLE PRECISION NOT NULL DEFAULT 0,
	classification_overlap DOUBLE PRECISION NOT NULL DEFAULT 0,
	recency                DOUBLE PRECISION NOT NULL DEFAULT 0,
	consensus_bonus        DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, identifier)
);

CREATE TABLE IF NOT EXISTS details (
	identifier     TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	claims         TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	citations      JSONB NOT NULL DEFAULT '[]',
	legal_events   JSONB NOT NULL DEFAULT '[]',
	family_members JSONB NOT NULL DEFAULT '[]',
	raw            BYTEA,
	fetched_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	error          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_bundle ON runs(bundle_id);
CREATE INDEX IF NOT EXISTS idx_raw_results_run ON raw_results(run_id);
CREATE INDEX IF NOT EXISTS idx_variant_hits_run ON variant_hits(run_id);
CREATE INDEX IF NOT EXISTS idx_unified_results_position ON unified_results(run_id, position);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, bundleID, bundleTitle string, hints []string, credits int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	hintsJSON, err := json.Marshal(emptyIfNil(hints))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal hints")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, bundle_id, bundle_title, hints, status, credits_charged, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, bundleID, bundleTitle, hintsJSON, string(model.RunStatusPending), credits, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var hints, warnings []byte
	var finished *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, bundle_id, bundle_title, hints, status, credits_charged, external_calls, cost_estimate,
		        warnings, error, started_at, finished_at, created_at, updated_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.BundleID, &r.BundleTitle, &hints, &r.Status, &r.CreditsCharged, &r.ExternalCalls, &r.CostEstimate,
		&warnings, &r.Error, &r.StartedAt, &finished, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := unmarshalJSONList(hints, &r.Hints); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hints")
	}
	if err := unmarshalJSONList(warnings, &r.Warnings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal warnings")
	}
	r.FinishedAt = finished
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, bundle_id, bundle_title, hints, status, credits_charged, external_calls, cost_estimate,
	                 warnings, error, started_at, finished_at, created_at, updated_at
	          FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.BundleID != "" {
		query += fmt.Sprintf(` AND bundle_id = $%d`, argIdx)
		args = append(args, filter.BundleID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var hints, warnings []byte
		var finished *time.Time

		if err := rows.Scan(&r.ID, &r.BundleID, &r.BundleTitle, &hints, &r.Status, &r.CreditsCharged, &r.ExternalCalls, &r.CostEstimate,
			&warnings, &r.Error, &r.StartedAt, &finished, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := unmarshalJSONList(hints, &r.Hints); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal hints")
		}
		if err := unmarshalJSONList(warnings, &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal warnings")
		}
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, warnings []string, errMsg string, cost float64) error {
	now := time.Now().UTC()

	var warningsJSON []byte
	if len(warnings) > 0 {
		b, err := json.Marshal(warnings)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal warnings")
		}
		warningsJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, warnings = $2, error = $3, cost_estimate = $4, finished_at = $5, updated_at = $6 WHERE id = $7`,
		string(status), warningsJSON, errMsg, cost, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) RecordExternalCall(ctx context.Context, runID string, n int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET external_calls = external_calls + $1, updated_at = $2 WHERE id = $3`,
		n, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record external call %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CreateVariants(ctx context.Context, variants []model.QueryVariant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin variants tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, v := range variants {
		_, err := tx.Exec(ctx,
			`INSERT INTO query_variants (run_id, label, query, result_count, page, source, outcome, local_hits, provider_hits, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.RunID, string(v.Label), v.Query, v.Count, v.Page, string(v.Source), string(v.Outcome), v.LocalHits, v.ProviderHits, v.Error,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert variant %s/%s", v.RunID, v.Label)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit variants")
}

func (s *PostgresStore) UpdateVariant(ctx context.Context, v model.QueryVariant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE query_variants SET source = $1, outcome = $2, local_hits = $3, provider_hits = $4, error = $5
		 WHERE run_id = $6 AND label = $7`,
		string(v.Source), string(v.Outcome), v.LocalHits, v.ProviderHits, v.Error, v.RunID, string(v.Label),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update variant %s/%s", v.RunID, v.Label)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "variant %s/%s", v.RunID, v.Label)
	}
	return nil
}

func (s *PostgresStore) ListVariants(ctx context.Context, runID string) ([]model.QueryVariant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, label, query, result_count, page, source, outcome, local_hits, provider_hits, error
		 FROM query_variants WHERE run_id = $1
		 ORDER BY CASE label WHEN 'broad' THEN 0 WHEN 'baseline' THEN 1 ELSE 2 END`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list variants")
	}
	defer rows.Close()

	var out []model.QueryVariant
	for rows.Next() {
		var v model.QueryVariant
		if err := rows.Scan(&v.RunID, &v.Label, &v.Query, &v.Count, &v.Page, &v.Source, &v.Outcome, &v.LocalHits, &v.ProviderHits, &v.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan variant")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list variants iterate")
}

func (s *PostgresStore) SaveRawResult(ctx context.Context, raw model.RawResult) error {
	id := raw.ID
	if id == "" {
		id = uuid.New().String()
	}
	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_results (id, run_id, variant_label, endpoint, payload, fetched_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, raw.RunID, string(raw.VariantLabel), raw.Endpoint, raw.Payload, fetchedAt,
	)
	return eris.Wrap(err, "postgres: save raw result")
}

func (s *PostgresStore) ListRawResults(ctx context.Context, runID string) ([]model.RawResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, variant_label, endpoint, payload, fetched_at FROM raw_results
		 WHERE run_id = $1 ORDER BY fetched_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw results")
	}
	defer rows.Close()

	var out []model.RawResult
	for rows.Next() {
		var r model.RawResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.VariantLabel, &r.Endpoint, &r.Payload, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list raw results iterate")
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec model.CanonicalRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin record tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanRecordPG(tx.QueryRow(ctx, selectRecordPG+` WHERE identifier = $1`, rec.Identifier))
	if err != nil {
		return err
	}

	target := rec
	if existing != nil {
		merged := *existing
		merge.Record(&merged, rec)
		target = merged
	}
	if err := execUpsertRecordPG(ctx, tx, target); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit record")
}

func (s *PostgresStore) GetRecord(ctx context.Context, identifier string) (*model.CanonicalRecord, error) {
	return scanRecordPG(s.pool.QueryRow(ctx, selectRecordPG+` WHERE identifier = $1`, identifier))
}

func (s *PostgresStore) SearchRecords(ctx context.Context, tokens []string, limit int) ([]model.CanonicalRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	var clauses []string
	args := []any{}
	argIdx := 1
	for _, tok := range tokens {
		clauses = append(clauses, fmt.Sprintf(`(title ILIKE $%d OR abstract ILIKE $%d)`, argIdx, argIdx))
		args = append(args, "%"+tok+"%")
		argIdx++
	}
	query := selectRecordPG + ` WHERE ` + strings.Join(clauses, " OR ") + fmt.Sprintf(` ORDER BY identifier LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecordPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search records iterate")
}

// BulkUpsertRecords loads corpus imports through the shared temp-table
// upsert. Stored rows are read and folded in first, so bulk imports run
// the same non-destructive merge as single upserts. Folding also
// collapses duplicate identifiers within the batch, which the conflict
// clause cannot handle on its own.
func (s *PostgresStore) BulkUpsertRecords(ctx context.Context, recs []model.CanonicalRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.Identifier)
	}
	existing, err := s.recordsByIdentifier(ctx, ids)
	if err != nil {
		return 0, err
	}

	merged := make([]model.CanonicalRecord, 0, len(recs))
	index := make(map[string]int, len(recs))
	for _, rec := range recs {
		if i, ok := index[rec.Identifier]; ok {
			merge.Record(&merged[i], rec)
			continue
		}
		target := rec
		if prev, ok := existing[rec.Identifier]; ok {
			base := *prev
			merge.Record(&base, rec)
			target = base
		}
		index[rec.Identifier] = len(merged)
		merged = append(merged, target)
	}

	cols := []string{"identifier", "title", "abstract", "snippet", "publication_date", "assignee", "inventors", "classifications", "link", "first_seen_at", "last_seen_at"}
	rows := make([][]any, 0, len(merged))
	for _, rec := range merged {
		inventors, err := json.Marshal(emptyIfNil(rec.Inventors))
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal inventors")
		}
		classifications, err := json.Marshal(emptyIfNil(rec.Classifications))
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal classifications")
		}
		rows = append(rows, []any{
			rec.Identifier, rec.Title, rec.Abstract, rec.Snippet, rec.PublicationDate, rec.Assignee,
			inventors, classifications, rec.Link, rec.FirstSeenAt, rec.LastSeenAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "records",
		Columns:      cols,
		ConflictKeys: []string{"identifier"},
		UpdateCols:   []string{"title", "abstract", "snippet", "publication_date", "assignee", "inventors", "classifications", "link", "last_seen_at"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk upsert records")
	}
	return int(n), nil
}

// recordsByIdentifier fetches the stored records for the given identifiers,
// keyed by identifier. Unknown identifiers are simply absent.
func (s *PostgresStore) recordsByIdentifier(ctx context.Context, ids []string) (map[string]*model.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx, selectRecordPG+` WHERE identifier = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load records for merge")
	}
	defer rows.Close()

	out := make(map[string]*model.CanonicalRecord)
	for rows.Next() {
		rec, err := scanRecordPG(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Identifier] = rec
	}
	return out, eris.Wrap(rows.Err(), "postgres: load records for merge iterate")
}

func (s *PostgresStore) CreateVariantHit(ctx context.Context, hit model.VariantHit) error {
	foundAt := hit.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO variant_hits (run_id, variant_label, identifier, hit_rank, source, found_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, variant_label, identifier) DO NOTHING`,
		hit.RunID, string(hit.VariantLabel), hit.Identifier, hit.Rank, string(hit.Source), foundAt,
	)
	return eris.Wrap(err, "postgres: create variant hit")
}

func (s *PostgresStore) ListVariantHits(ctx context.Context, runID string) ([]model.VariantHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, variant_label, identifier, hit_rank, source, found_at FROM variant_hits
		 WHERE run_id = $1 ORDER BY variant_label, hit_rank`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list variant hits")
	}
	defer rows.Close()

	var out []model.VariantHit
	for rows.Next() {
		var h model.VariantHit
		if err := rows.Scan(&h.RunID, &h.VariantLabel, &h.Identifier, &h.Rank, &h.Source, &h.FoundAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan variant hit")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list variant hits iterate")
}

func (s *PostgresStore) ReplaceUnifiedResults(ctx context.Context, runID string, results []model.UnifiedResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin results tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	overrides := make(map[string]model.ShortlistOverride)
	rows, err := tx.Query(ctx,
		`SELECT identifier, override FROM unified_results WHERE run_id = $1 AND override != ''`,
		runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: read overrides")
	}
	for rows.Next() {
		var id, ov string
		if err := rows.Scan(&id, &ov); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan override")
		}
		overrides[id] = model.ShortlistOverride(ov)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return eris.Wrap(err, "postgres: read overrides iterate")
	}
	rows.Close()

	if _, err := tx.Exec(ctx, `DELETE FROM unified_results WHERE run_id = $1`, runID); err != nil {
		return eris.Wrap(err, "postgres: delete unified results")
	}

	for _, r := range results {
		ov := r.Override
		if ov == model.OverrideNone {
			ov = overrides[r.Identifier]
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO unified_results
			 (run_id, identifier, intersection, score, position, shortlisted, override,
			  title_density, snippet_density, variant_signal, classification_overlap, recency, consensus_bonus)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			runID, r.Identifier, string(r.Intersection), r.Score, r.Position, r.Shortlisted, string(ov),
			r.TitleDensity, r.SnippetDensity, r.VariantSignal, r.ClassificationOverlap, r.Recency, r.ConsensusBonus,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert unified result %s", r.Identifier)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit unified results")
}

func (s *PostgresStore) ListUnifiedResults(ctx context.Context, runID string) ([]model.UnifiedResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, identifier, intersection, score, position, shortlisted, override,
		        title_density, snippet_density, variant_signal, classification_overlap, recency, consensus_bonus
		 FROM unified_results WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unified results")
	}
	defer rows.Close()

	var out []model.UnifiedResult
	for rows.Next() {
		var r model.UnifiedResult
		if err := rows.Scan(&r.RunID, &r.Identifier, &r.Intersection, &r.Score, &r.Position, &r.Shortlisted, &r.Override,
			&r.TitleDensity, &r.SnippetDensity, &r.VariantSignal, &r.ClassificationOverlap, &r.Recency, &r.ConsensusBonus); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unified result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unified results iterate")
}

func (s *PostgresStore) SetShortlistOverride(ctx context.Context, runID, identifier string, override model.ShortlistOverride) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE unified_results SET override = $1 WHERE run_id = $2 AND identifier = $3`,
		string(override), runID, identifier,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set override %s/%s", runID, identifier)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "unified_result %s/%s", runID, identifier)
	}
	return nil
}

func (s *PostgresStore) UpsertDetail(ctx context.Context, d model.DetailRecord) error {
	citations, err := json.Marshal(emptyIfNil(d.Citations))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citations")
	}
	events, err := json.Marshal(emptyIfNil(d.LegalEvents))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal legal events")
	}
	family, err := json.Marshal(emptyIfNil(d.FamilyMembers))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal family members")
	}

	fetchedAt := d.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO details (identifier, status, claims, description, citations, legal_events, family_members, raw, fetched_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (identifier) DO UPDATE SET
		   status = EXCLUDED.status, claims = EXCLUDED.claims, description = EXCLUDED.description,
		   citations = EXCLUDED.citations, legal_events = EXCLUDED.legal_events, family_members = EXCLUDED.family_members,
		   raw = EXCLUDED.raw, fetched_at = EXCLUDED.fetched_at, error = EXCLUDED.error`,
		d.Identifier, string(d.Status), d.Claims, d.Description, citations, events, family, d.Raw, fetchedAt, d.Error,
	)
	return eris.Wrap(err, "postgres: upsert detail")
}

func (s *PostgresStore) GetDetail(ctx context.Context, identifier string) (*model.DetailRecord, error) {
	var d model.DetailRecord
	var citations, events, family []byte

	err := s.pool.QueryRow(ctx,
		`SELECT identifier, status, claims, description, citations, legal_events, family_members, raw, fetched_at, error
		 FROM details WHERE identifier = $1`,
		identifier,
	).Scan(&d.Identifier, &d.Status, &d.Claims, &d.Description, &citations, &events, &family, &d.Raw, &d.FetchedAt, &d.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get detail")
	}

	if err := unmarshalJSONList(citations, &d.Citations); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal citations")
	}
	if err := unmarshalJSONList(events, &d.LegalEvents); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal legal events")
	}
	if err := unmarshalJSONList(family, &d.FamilyMembers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal family members")
	}
	return &d, nil
}

func (s *PostgresStore) RunStats(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{ByStatus: make(map[string]int)}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(external_calls), 0), COALESCE(SUM(cost_estimate), 0) FROM runs`,
	).Scan(&stats.TotalRuns, &stats.ExternalCalls, &stats.TotalCost)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run totals")
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: runs by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: runs by status iterate")
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records`).Scan(&stats.Records); err != nil {
		return nil, eris.Wrap(err, "postgres: count records")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM details`).Scan(&stats.Details); err != nil {
		return nil, eris.Wrap(err, "postgres: count details")
	}
	return stats, nil
}

// helpers

const selectRecordPG = `SELECT identifier, title, abstract, snippet, publication_date, assignee, inventors, classifications, link, first_seen_at, last_seen_at FROM records`

type pgRower interface {
	Scan(dest ...any) error
}

func scanRecordPG(row pgRower) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	var pub *time.Time
	var inventors, classifications []byte

	err := row.Scan(&rec.Identifier, &rec.Title, &rec.Abstract, &rec.Snippet, &pub, &rec.Assignee,
		&inventors, &classifications, &rec.Link, &rec.FirstSeenAt, &rec.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	rec.PublicationDate = pub
	if err := unmarshalJSONList(inventors, &rec.Inventors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal inventors")
	}
	if err := unmarshalJSONList(classifications, &rec.Classifications); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal classifications")
	}
	return &rec, nil
}

// unmarshalJSONList leaves dst nil for empty arrays so both store
// implementations hand back the same shape.
func unmarshalJSONList(raw []byte, dst *[]string) error {
	if len(raw) == 0 || string(raw) == "[]" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func execUpsertRecordPG(ctx context.Context, tx pgx.Tx, rec model.CanonicalRecord) error {
	inventors, err := json.Marshal(emptyIfNil(rec.Inventors))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal inventors")
	}
	classifications, err := json.Marshal(emptyIfNil(rec.Classifications))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal classifications")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO records (identifier, title, abstract, snippet, publication_date, assignee, inventors, classifications, link, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (identifier) DO UPDATE SET
		   title = EXCLUDED.title, abstract = EXCLUDED.abstract, snippet = EXCLUDED.snippet,
		   publication_date = EXCLUDED.publication_date, assignee = EXCLUDED.assignee,
		   inventors = EXCLUDED.inventors, classifications = EXCLUDED.classifications,
		   link = EXCLUDED.link, first_seen_at = EXCLUDED.first_seen_at, last_seen_at = EXCLUDED.last_seen_at`,
		rec.Identifier, rec.Title, rec.Abstract, rec.Snippet, rec.PublicationDate, rec.Assignee,
		inventors, classifications, rec.Link, rec.FirstSeenAt, rec.LastSeenAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.Identifier)
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
