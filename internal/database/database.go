// Package database manages the SQLite store behind the stock ledgers: WAL
// mode, write transactions that take the database lock up front, embedded
// migrations, scheduled backups and crash recovery.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storekeeper/storekeeper/internal/config"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// ErrClosed is returned when a transaction is requested after Close.
var ErrClosed = errors.New("database is closed")

const memoryPath = ":memory:"

// filePragmas are applied to every file-backed handle.
var filePragmas = []string{
	"journal_mode=WAL",
	"synchronous=NORMAL",
	"foreign_keys=ON",
	"cache_size=-16000",
}

// DB wraps a sqlx.DB with transaction, backup and shutdown handling.
type DB struct {
	*sqlx.DB
	path      string
	config    *config.DatabaseConfig
	backupDir string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	stopBackups context.CancelFunc
	backups     sync.WaitGroup
}

// DSN builds the connection string for a database file.
//
// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE, so a write
// transaction holds the database write lock from its first statement. Stock
// rows are read and re-validated under that lock. The busy timeout lets
// competing writers queue instead of failing with SQLITE_BUSY.
func DSN(dbPath string, busyTimeout time.Duration) string {
	return fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		dbPath, busyTimeout.Milliseconds(),
	)
}

// connect opens a single-connection pool. SQLite has one writer, and a
// single connection keeps every statement of a transaction on it.
func connect(dbPath string, busyTimeout time.Duration) (*sqlx.DB, error) {
	sqlDB, err := sqlx.Open(DriverName, DSN(dbPath, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return sqlDB, nil
}

// Open opens the store file in WAL mode. A failed integrity check is only
// logged: the caller runs AttemptRecovery before opening.
func Open(dbPath string, cfg *config.DatabaseConfig, backupDir string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := connect(dbPath, cfg.BusyTimeout())
	if err != nil {
		return nil, err
	}
	for _, pragma := range filePragmas {
		if _, err := sqlDB.Exec("PRAGMA " + pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: dbPath, config: cfg, backupDir: backupDir}

	if err := db.CheckIntegrity(context.Background()); err != nil {
		slog.Warn("database integrity check failed", "path", dbPath, "error", err)
	}

	if cfg.BackupIntervalHours > 0 && backupDir != "" {
		db.scheduleBackups(time.Duration(cfg.BackupIntervalHours) * time.Hour)
	}
	return db, nil
}

// CheckIntegrity runs SQLite's integrity check on the open handle.
func (db *DB) CheckIntegrity(ctx context.Context) error {
	return integrityCheck(ctx, db.DB)
}

// Checkpoint folds the WAL back into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database into the backup
// directory and prunes backups past the retention period.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if db.backupDir == "" {
		return "", errors.New("backup directory not configured")
	}

	if err := db.Checkpoint(ctx); err != nil {
		slog.Warn("checkpoint before backup failed", "error", err)
	}

	path := filepath.Join(db.backupDir, backupName(time.Now()))
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	slog.Info("database backup created", "path", path)

	if days := db.config.BackupRetentionDays; days > 0 {
		db.pruneBackups(time.Now().AddDate(0, 0, -days))
	}
	return path, nil
}

// pruneBackups removes backups taken before cutoff.
func (db *DB) pruneBackups(cutoff time.Time) {
	backups, err := findBackups(db.backupDir)
	if err != nil {
		slog.Warn("listing backups", "error", err)
		return
	}
	for _, b := range backups {
		if !b.takenAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.path); err != nil {
			slog.Warn("removing old backup", "path", b.path, "error", err)
			continue
		}
		slog.Debug("removed old backup", "path", b.path)
	}
}

func (db *DB) scheduleBackups(every time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	db.stopBackups = cancel

	db.backups.Add(1)
	go func() {
		defer db.backups.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, done := context.WithTimeout(ctx, 5*time.Minute)
				if _, err := db.Backup(runCtx); err != nil {
					slog.Error("scheduled backup failed", "error", err)
				}
				done()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops scheduled backups, checkpoints the WAL and closes the
// connection. Later calls return the first call's result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		if db.stopBackups != nil {
			db.stopBackups()
			db.backups.Wait()
		}

		if db.path != memoryPath {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := db.Checkpoint(ctx); err != nil {
				slog.Warn("final checkpoint failed", "error", err)
			}
			cancel()
		}

		if err := db.DB.Close(); err != nil {
			db.closeErr = fmt.Errorf("closing database: %w", err)
			return
		}
		slog.Debug("database closed", "path", db.path)
	})
	return db.closeErr
}

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool {
	return db.closed.Load()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// BeginTxx starts a transaction. With the immediate txlock this blocks
// until the write lock is available or the busy timeout expires.
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	if db.IsClosed() {
		return nil, ErrClosed
	}
	return db.DB.BeginTxx(ctx, opts)
}

// WithTransaction runs fn in a transaction. It commits when fn returns nil;
// otherwise it rolls back and returns fn's error unchanged. A panic in fn
// rolls back and is re-raised.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && err != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("rolling back after error %v: %w", err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// Savepoint runs fn inside a named SAVEPOINT of tx. When fn fails the work
// since the savepoint is undone and the error returned; the outer
// transaction stays usable either way.
func Savepoint(ctx context.Context, tx *sqlx.Tx, name string, fn func() error) error {
	exec := func(stmt string) error {
		_, err := tx.ExecContext(ctx, stmt+" "+name)
		return err
	}

	if err := exec("SAVEPOINT"); err != nil {
		return fmt.Errorf("creating savepoint %s: %w", name, err)
	}

	fnErr := fn()
	if fnErr != nil {
		if err := exec("ROLLBACK TO"); err != nil {
			return fmt.Errorf("rolling back to savepoint %s after error %v: %w", name, fnErr, err)
		}
	}
	if err := exec("RELEASE"); err != nil {
		return fmt.Errorf("releasing savepoint %s: %w", name, err)
	}
	return fnErr
}

// HealthCheck verifies the handle is open and answers queries.
func (db *DB) HealthCheck(ctx context.Context) error {
	if db.IsClosed() {
		return ErrClosed
	}
	var one int
	if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("health check returned %d", one)
	}
	return nil
}

// Stats describes the database file.
type Stats struct {
	Path          string `json:"path" yaml:"path"`
	SizeBytes     int64  `json:"size_bytes" yaml:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes" yaml:"wal_size_bytes"`
	PageCount     int64  `json:"page_count" yaml:"page_count"`
	FreePageCount int64  `json:"free_page_count" yaml:"free_page_count"`
	PageSize      int64  `json:"page_size" yaml:"page_size"`
	JournalMode   string `json:"journal_mode" yaml:"journal_mode"`
	Backups       int    `json:"backups" yaml:"backups"`
}

// GetStats reports file sizes, page counts and the number of backups on
// disk. Individual pragma failures leave their field zero.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	if db.IsClosed() {
		return nil, ErrClosed
	}

	stats := &Stats{Path: db.path}
	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	if info, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = info.Size()
	}

	for pragma, dest := range map[string]*int64{
		"page_count":     &stats.PageCount,
		"freelist_count": &stats.FreePageCount,
		"page_size":      &stats.PageSize,
	} {
		if err := db.GetContext(ctx, dest, "PRAGMA "+pragma); err != nil {
			slog.Warn("reading database stat", "pragma", pragma, "error", err)
		}
	}
	if err := db.GetContext(ctx, &stats.JournalMode, "PRAGMA journal_mode"); err != nil {
		slog.Warn("reading journal mode", "error", err)
	}

	if db.backupDir != "" {
		if backups, err := findBackups(db.backupDir); err == nil {
			stats.Backups = len(backups)
		}
	}
	return stats, nil
}
