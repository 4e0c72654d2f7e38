// Package testutil provides utilities for testing.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/storekeeper/storekeeper/internal/config"
	"github.com/storekeeper/storekeeper/internal/database"
)

// TestDB wraps a migrated test database.
type TestDB struct {
	*database.DB
}

// NewTestDB creates a migrated in-memory SQLite database that is closed
// when the test ends.
func NewTestDB(t testing.TB) *TestDB {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	tdb := &TestDB{DB: db}
	tdb.migrate(t)
	t.Cleanup(func() { db.Close() })
	return tdb
}

// NewTestDBWithFile creates a migrated database backed by a temporary file
// in WAL mode. Use it when a test needs several handles on one database.
func NewTestDBWithFile(t testing.TB) (*TestDB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	tdb := OpenTestDBFile(t, dbPath)
	tdb.migrate(t)
	return tdb, dbPath
}

// OpenTestDBFile opens another handle on an existing database file without
// migrating it.
func OpenTestDBFile(t testing.TB, dbPath string) *TestDB {
	t.Helper()

	cfg := config.Default().Database
	cfg.BackupIntervalHours = 0
	cfg.BusyTimeoutMS = 30000

	db, err := database.Open(dbPath, &cfg, "")
	if err != nil {
		t.Fatalf("failed to open test database %s: %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return &TestDB{DB: db}
}

func (tdb *TestDB) migrate(t testing.TB) {
	t.Helper()

	if _, err := database.Migrate(context.Background(), tdb.DB); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
}

// Truncate removes all data from the given tables while keeping the schema.
func (tdb *TestDB) Truncate(t testing.TB, tables ...string) {
	t.Helper()

	ctx := context.Background()
	if _, err := tdb.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatalf("failed to disable foreign keys: %v", err)
	}
	for _, table := range tables {
		if _, err := tdb.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
	if _, err := tdb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
}

// AssertRowCount asserts the row count for a table.
func (tdb *TestDB) AssertRowCount(t testing.TB, table string, expected int) {
	t.Helper()

	var count int
	if err := tdb.Get(&count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}

	if count != expected {
		t.Errorf("expected %d rows in %s, got %d", expected, table, count)
	}
}

// ExecSQL executes arbitrary SQL for test setup.
func (tdb *TestDB) ExecSQL(t testing.TB, sql string, args ...any) {
	t.Helper()

	if _, err := tdb.Exec(sql, args...); err != nil {
		t.Fatalf("failed to execute SQL: %v\nSQL: %s", err, sql)
	}
}
