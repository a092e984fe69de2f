package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// TestNewSQLite_InvalidDSN verifies that NewSQLite returns an error for
// an invalid DSN (e.g., a path inside a nonexistent directory).
func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/subdir/test.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

// TestNewSQLite_ValidPath confirms NewSQLite succeeds with a valid path and
// sets up WAL mode properly.
func TestNewSQLite_ValidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "valid.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	var mode string
	err = s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// TestNewSQLite_CloseAndReopen verifies data written before a close is still
// there after reopening the same file.
func TestNewSQLite_CloseAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s1, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Migrate(ctx))
	run, err := s1.CreateRun(ctx, "bundle-1", "Reopen test", nil, 1)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() }) //nolint:errcheck

	got, err := s2.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", got.BundleID)
	assert.Equal(t, model.RunStatusPending, got.Status)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_GetRunNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetRun(context.Background(), "totally-missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
