package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// RecoveryResult indicates the outcome of a recovery attempt.
type RecoveryResult int

const (
	// RecoverySuccess means the database was healthy or recovered in place.
	RecoverySuccess RecoveryResult = iota
	// RecoveryFromBackup means the database was restored from a backup.
	RecoveryFromBackup
	// RecoveryFailed means every step failed.
	RecoveryFailed
)

func (r RecoveryResult) String() string {
	switch r {
	case RecoverySuccess:
		return "success"
	case RecoveryFromBackup:
		return "restored_from_backup"
	case RecoveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecoveryReport describes what AttemptRecovery did to a database file.
type RecoveryReport struct {
	Result       RecoveryResult
	DatabasePath string
	BackupUsed   string
	WALRecovered bool
	Error        error
	Steps        []RecoveryStep
}

// RecoveryStep is one check or repair applied to the file.
type RecoveryStep struct {
	Name      string
	Succeeded bool
	Message   string
	Duration  time.Duration
}

// ErrRecoveryFailed is returned when no step produced a healthy database.
var ErrRecoveryFailed = errors.New("all recovery attempts failed")

const (
	backupPrefix = "storekeeper-"
	backupSuffix = ".db"
	backupLayout = "20060102-150405.000"
)

// backupName is the file name of a backup taken at t. Names sort in the
// order the backups were taken.
func backupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupLayout) + backupSuffix
}

// recovery runs the steps against one file and records each of them.
type recovery struct {
	ctx    context.Context
	report *RecoveryReport
}

func (r *recovery) step(name string, fn func(ctx context.Context) (string, error)) (string, bool) {
	start := time.Now()
	msg, err := fn(r.ctx)

	s := RecoveryStep{Name: name, Message: msg, Duration: time.Since(start), Succeeded: err == nil}
	if err != nil {
		s.Message = err.Error()
	}
	r.report.Steps = append(r.report.Steps, s)
	return s.Message, s.Succeeded
}

func (r *recovery) integrity(name, path string) bool {
	_, ok := r.step(name, func(ctx context.Context) (string, error) {
		return "ok", verifyFile(ctx, path)
	})
	return ok
}

// AttemptRecovery checks a database file before it is opened and repairs it
// if it can: integrity check, then WAL replay, then restore of the newest
// healthy backup. A missing file is a first run and counts as success.
func AttemptRecovery(ctx context.Context, dbPath, backupDir string) (*RecoveryReport, error) {
	report := &RecoveryReport{DatabasePath: dbPath}
	r := &recovery{ctx: ctx, report: report}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		r.step("check_exists", func(context.Context) (string, error) {
			return "database does not exist (first run)", nil
		})
		return report, nil
	}

	if r.integrity("integrity_check", dbPath) {
		slog.Debug("database integrity check passed", "path", dbPath)
		return report, nil
	}
	slog.Warn("database integrity check failed", "path", dbPath, "error", report.Steps[0].Message)

	if _, err := os.Stat(dbPath + "-wal"); err == nil {
		_, replayed := r.step("wal_recovery", func(ctx context.Context) (string, error) {
			return "WAL checkpoint complete", replayWAL(ctx, dbPath)
		})
		if replayed && r.integrity("post_wal_integrity", dbPath) {
			report.WALRecovered = true
			slog.Info("database recovered via WAL replay", "path", dbPath)
			return report, nil
		}
	}

	if backupDir != "" {
		used, restored := r.step("backup_restoration", func(ctx context.Context) (string, error) {
			return restoreNewestBackup(ctx, dbPath, backupDir)
		})
		if restored {
			report.Result = RecoveryFromBackup
			report.BackupUsed = used
			slog.Warn("database restored from backup", "path", dbPath, "backup", used)
			return report, nil
		}
	}

	report.Result = RecoveryFailed
	report.Error = ErrRecoveryFailed
	slog.Error("database recovery failed", "path", dbPath, "steps", len(report.Steps))
	return report, ErrRecoveryFailed
}

func verifyFile(ctx context.Context, path string) error {
	db, err := sqlx.Open(DriverName, fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return integrityCheck(ctx, db)
}

// integrityCheck runs PRAGMA integrity_check and turns anything but a single
// "ok" row into an error.
func integrityCheck(ctx context.Context, q sqlx.QueryerContext) error {
	var problems []string
	if err := sqlx.SelectContext(ctx, q, &problems, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return nil
	}
	return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
}

// replayWAL opens the file read-write so SQLite replays its WAL, then folds
// the WAL back into the main file.
func replayWAL(ctx context.Context, dbPath string) error {
	db, err := sqlx.Open(DriverName, DSN(dbPath, 5*time.Second))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

type backupFile struct {
	path    string
	takenAt time.Time
}

// ListBackups returns backup files in dir, newest first.
func ListBackups(dir string) ([]string, error) {
	backups, err := findBackups(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(backups))
	for _, b := range backups {
		paths = append(paths, b.path)
	}
	return paths, nil
}

func findBackups(dir string) ([]backupFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []backupFile
	for _, entry := range entries {
		name := entry.Name()
		stamp, ok := strings.CutPrefix(name, backupPrefix)
		if entry.IsDir() || !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, backupSuffix)
		if !ok {
			continue
		}
		takenAt, err := time.Parse(backupLayout, stamp)
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{path: filepath.Join(dir, name), takenAt: takenAt})
	}

	slices.SortFunc(backups, func(a, b backupFile) int {
		return cmp.Compare(b.takenAt.UnixNano(), a.takenAt.UnixNano())
	})
	return backups, nil
}

func restoreNewestBackup(ctx context.Context, dbPath, backupDir string) (string, error) {
	backups, err := findBackups(backupDir)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", errors.New("no backup files found")
	}

	for _, backup := range backups {
		if err := verifyFile(ctx, backup.path); err != nil {
			slog.Debug("backup failed integrity check", "path", backup.path, "error", err)
			continue
		}

		// Keep the broken file around for inspection.
		quarantine := dbPath + ".corrupted." + time.Now().UTC().Format("20060102-150405")
		if err := os.Rename(dbPath, quarantine); err != nil {
			slog.Warn("failed to preserve corrupted database", "path", dbPath, "error", err)
		}
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")

		if err := installCopy(backup.path, dbPath); err != nil {
			return "", fmt.Errorf("copying backup: %w", err)
		}
		return backup.path, nil
	}

	return "", errors.New("no valid backup found")
}

// installCopy copies src next to dst and renames it into place, so dst is
// never left half written.
func installCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".restore-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing copy: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	return os.Rename(tmp.Name(), dst)
}
