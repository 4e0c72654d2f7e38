package database

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/storekeeper/storekeeper/internal/config"
)

func newMigratedDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name); err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrator(t *testing.T) {
	ctx := context.Background()
	db := newMigratedDB(t)

	m, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}

	t.Run("Applies every migration", func(t *testing.T) {
		version, err := m.CurrentVersion(ctx)
		if err != nil {
			t.Fatalf("failed to read version: %v", err)
		}
		if version != 3 {
			t.Errorf("expected version 3, got %d", version)
		}
		for _, table := range []string{"inventory_items", "stock_movements", "requisitions", "purchase_requests", "procurement_logs"} {
			if !tableExists(t, db, table) {
				t.Errorf("expected table %s", table)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		result, err := m.MigrateUp(ctx)
		if err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
		if len(result.Applied) != 0 {
			t.Errorf("expected nothing to apply, got %d", len(result.Applied))
		}
	})

	t.Run("Status", func(t *testing.T) {
		status, err := m.Status(ctx)
		if err != nil {
			t.Fatalf("failed to read status: %v", err)
		}
		if len(status) != 3 {
			t.Fatalf("expected 3 migrations, got %d", len(status))
		}
		for _, mig := range status {
			if !mig.Applied {
				t.Errorf("migration %d not applied", mig.Version)
			}
		}
	})

	t.Run("Verify", func(t *testing.T) {
		if err := m.Verify(ctx); err != nil {
			t.Fatalf("expected checksums to match: %v", err)
		}

		if _, err := db.Exec("UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 2"); err != nil {
			t.Fatalf("failed to tamper checksum: %v", err)
		}
		if err := m.Verify(ctx); !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("expected ErrChecksumMismatch, got %v", err)
		}
	})

	t.Run("Down and up again", func(t *testing.T) {
		result, err := m.MigrateDown(ctx)
		if err != nil {
			t.Fatalf("failed to roll back: %v", err)
		}
		if result.TargetVersion != 2 {
			t.Errorf("expected version 2, got %d", result.TargetVersion)
		}
		if tableExists(t, db, "procurement_logs") {
			t.Error("procurement_logs should be dropped")
		}

		pending, err := m.PendingMigrations(ctx)
		if err != nil {
			t.Fatalf("failed to list pending: %v", err)
		}
		if len(pending) != 1 || pending[0].Version != 3 {
			t.Errorf("expected migration 3 pending, got %v", pending)
		}

		if _, err := m.MigrateUp(ctx); err != nil {
			t.Fatalf("failed to migrate up: %v", err)
		}
		if !tableExists(t, db, "procurement_logs") {
			t.Error("procurement_logs should be recreated")
		}
	})
}

func TestParseMigration(t *testing.T) {
	up, down := ParseMigration("-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n")

	if up != "CREATE TABLE a (id INTEGER);" {
		t.Errorf("unexpected up SQL %q", up)
	}
	if down != "DROP TABLE a;" {
		t.Errorf("unexpected down SQL %q", down)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("INSERT INTO t VALUES ('a;b');\n-- comment; ignored\nSELECT 1;")

	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "INSERT INTO t VALUES ('a;b')" {
		t.Errorf("unexpected first statement %q", stmts[0])
	}
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := newMigratedDB(t)

	insert := func(tx *sqlx.Tx, code string) error {
		_, err := tx.Exec(`
			INSERT INTO inventory_items (id, code, name, category, unit_price, created_at, updated_at)
			VALUES (?, ?, 'Item', 'General', '1.00', '2026-01-01T00:00:00.000000Z', '2026-01-01T00:00:00.000000Z')`,
			code, code)
		return err
	}
	count := func() int {
		var n int
		if err := db.Get(&n, "SELECT COUNT(*) FROM inventory_items"); err != nil {
			t.Fatalf("failed to count items: %v", err)
		}
		return n
	}

	t.Run("Commit", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			return insert(tx, "A")
		})
		if err != nil {
			t.Fatalf("transaction failed: %v", err)
		}
		if count() != 1 {
			t.Error("expected committed row")
		}
	})

	t.Run("Rollback returns error unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			if err := insert(tx, "B"); err != nil {
				return err
			}
			return boom
		})
		if err != boom {
			t.Errorf("expected boom, got %v", err)
		}
		if count() != 1 {
			t.Error("expected rolled back row")
		}
	})

	t.Run("Savepoint undoes only its own work", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			if err := insert(tx, "C"); err != nil {
				return err
			}
			spErr := Savepoint(ctx, tx, "inner", func() error {
				if err := insert(tx, "D"); err != nil {
					return err
				}
				return errors.New("inner failure")
			})
			if spErr == nil {
				t.Error("expected savepoint error")
			}
			return Savepoint(ctx, tx, "second", func() error {
				return insert(tx, "E")
			})
		})
		if err != nil {
			t.Fatalf("transaction failed: %v", err)
		}

		var codes []string
		if err := db.Select(&codes, "SELECT code FROM inventory_items ORDER BY code"); err != nil {
			t.Fatalf("failed to list codes: %v", err)
		}
		if len(codes) != 3 || codes[0] != "A" || codes[1] != "C" || codes[2] != "E" {
			t.Errorf("expected [A C E], got %v", codes)
		}
	})

	t.Run("Closed database", func(t *testing.T) {
		closed, err := NewInMemory()
		if err != nil {
			t.Fatalf("failed to open: %v", err)
		}
		closed.Close()

		if _, err := closed.BeginTxx(ctx, nil); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := closed.HealthCheck(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from health check, got %v", err)
		}
	})
}

func openFileDB(t *testing.T) (*DB, string, string) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "storekeeper.db")
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		t.Fatalf("failed to create backup dir: %v", err)
	}

	db, err := Open(dbPath, &config.DatabaseConfig{BusyTimeoutMS: 5000}, backupDir)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db, dbPath, backupDir
}

func TestBackupAndRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("First run", func(t *testing.T) {
		report, err := AttemptRecovery(ctx, filepath.Join(t.TempDir(), "missing.db"), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Result != RecoverySuccess {
			t.Errorf("expected success, got %s", report.Result)
		}
	})

	t.Run("Healthy database", func(t *testing.T) {
		db, dbPath, _ := openFileDB(t)
		if err := db.HealthCheck(ctx); err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		db.Close()

		report, err := AttemptRecovery(ctx, dbPath, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Result != RecoverySuccess || len(report.Steps) != 1 {
			t.Errorf("expected a single passing integrity step, got %+v", report)
		}
	})

	t.Run("Restore corrupted database from backup", func(t *testing.T) {
		db, dbPath, backupDir := openFileDB(t)
		if _, err := db.Exec(`
			INSERT INTO inventory_items (id, code, name, category, unit_price, created_at, updated_at)
			VALUES ('i-1', 'ST-001', 'Stapler', 'Stationery', '7.00', '2026-01-01T00:00:00.000000Z', '2026-01-01T00:00:00.000000Z')`); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}

		backup, err := db.Backup(ctx)
		if err != nil {
			t.Fatalf("backup failed: %v", err)
		}
		db.Close()

		backups, err := ListBackups(backupDir)
		if err != nil {
			t.Fatalf("failed to list backups: %v", err)
		}
		if len(backups) != 1 || backups[0] != backup {
			t.Fatalf("expected backup %s, got %v", backup, backups)
		}

		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
		if err := os.WriteFile(dbPath, bytes.Repeat([]byte("corrupt!"), 1024), 0600); err != nil {
			t.Fatalf("failed to corrupt database: %v", err)
		}

		report, err := AttemptRecovery(ctx, dbPath, backupDir)
		if err != nil {
			t.Fatalf("recovery failed: %v", err)
		}
		if report.Result != RecoveryFromBackup || report.BackupUsed != backup {
			t.Errorf("expected restore from %s, got %+v", backup, report)
		}

		restored, err := Open(dbPath, &config.DatabaseConfig{BusyTimeoutMS: 5000}, "")
		if err != nil {
			t.Fatalf("failed to reopen: %v", err)
		}
		defer restored.Close()

		var name string
		if err := restored.Get(&name, "SELECT name FROM inventory_items WHERE id = 'i-1'"); err != nil {
			t.Fatalf("restored database missing row: %v", err)
		}
		if name != "Stapler" {
			t.Errorf("expected Stapler, got %s", name)
		}
	})

	t.Run("No backup to restore", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "broken.db")
		if err := os.WriteFile(dbPath, bytes.Repeat([]byte("corrupt!"), 1024), 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		report, err := AttemptRecovery(ctx, dbPath, t.TempDir())
		if !errors.Is(err, ErrRecoveryFailed) {
			t.Errorf("expected ErrRecoveryFailed, got %v", err)
		}
		if report.Result != RecoveryFailed {
			t.Errorf("expected failed result, got %s", report.Result)
		}
	})
}
