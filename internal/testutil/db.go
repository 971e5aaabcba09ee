// Package testutil provides test utilities for database setup.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/registration/internal/adapter/storage"
)

// SQLiteDSN returns a DSN for a fresh database file under the test's temp dir.
func SQLiteDSN(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registration.db")
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// NewSQLiteStore opens a migrated SQLite store that is closed when the test
// completes. A single connection keeps writers strictly serialised, which
// is what the optimistic-concurrency tests rely on.
func NewSQLiteStore(t testing.TB) *storage.SQLStore {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DialectSQLite, SQLiteDSN(t), storage.PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err, "open sqlite")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(ctx, db, storage.DialectSQLite), "migrate sqlite")
	return storage.NewSQLStore(db, storage.DialectSQLite)
}
