package sqlite

import (
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens a fresh WAL database in the test's temp directory and
// applies all migrations. A real file is used rather than a shared-cache
// in-memory database so that concurrent writer and reader connections behave
// as they do in production.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if _, err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// testNow is a fixed reference instant for repository tests.
var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
