package database

import (
	"bufio"
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS exposes the embedded migration files.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one numbered schema change.
type Migration struct {
	Version     int       `json:"version" yaml:"version"`
	Description string    `json:"description" yaml:"description"`
	Checksum    string    `json:"checksum" yaml:"checksum"`
	Applied     bool      `json:"applied" yaml:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	UpSQL       string    `json:"-" yaml:"-"`
	DownSQL     string    `json:"-" yaml:"-"`
}

// MigrationResult contains the result of running migrations.
type MigrationResult struct {
	Applied        []Migration
	CurrentVersion int
	TargetVersion  int
	Error          error
}

// ErrChecksumMismatch reports an applied migration whose file changed.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

const (
	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
)

// migrationFile matches NNN_description.sql.
var migrationFile = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migrator applies the embedded migrations and records them in
// schema_migrations.
type Migrator struct {
	db         *DB
	migrations []Migration
}

// NewMigrator loads the embedded migrations and makes sure the bookkeeping
// table exists.
func NewMigrator(db *DB) (*Migrator, error) {
	migrations, err := readMigrations(MigrationsFS())
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			checksum TEXT
		)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	return &Migrator{db: db, migrations: migrations}, nil
}

// Migrate brings db up to the latest schema.
func Migrate(ctx context.Context, db *DB) (*MigrationResult, error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, err
	}
	return m.MigrateUp(ctx)
}

func readMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		parts := migrationFile.FindStringSubmatch(name)
		if parts == nil {
			slog.Warn("skipping invalid migration filename", "name", name)
			continue
		}
		version, _ := strconv.Atoi(parts[1])

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		up, down := ParseMigration(string(content))
		sum := sha256.Sum256(content)

		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(parts[2], "_", " "),
			Checksum:    hex.EncodeToString(sum[:]),
			UpSQL:       up,
			DownSQL:     down,
		})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

// Migrations returns the loaded migrations in version order.
func (m *Migrator) Migrations() []Migration {
	return slices.Clone(m.migrations)
}

// ParseMigration splits a migration file into its Up and Down sections.
// Lines before the first marker belong to Up; a file without markers is
// all Up.
//
//	-- +migrate Up
//	CREATE TABLE ...;
//	-- +migrate Down
//	DROP TABLE ...;
func ParseMigration(content string) (upSQL, downSQL string) {
	var up, down strings.Builder
	section := &up

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case markerUp:
			section = &up
			continue
		case markerDown:
			section = &down
			continue
		}
		section.WriteString(line)
		section.WriteByte('\n')
	}

	return strings.TrimSpace(up.String()), strings.TrimSpace(down.String())
}

// CurrentVersion returns the highest applied version, 0 for a new database.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return 0, fmt.Errorf("querying current version: %w", err)
	}
	return version, nil
}

// PendingMigrations returns migrations above the current version.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	i, _ := slices.BinarySearchFunc(m.migrations, current+1, func(mig Migration, v int) int {
		return cmp.Compare(mig.Version, v)
	})
	return slices.Clone(m.migrations[i:]), nil
}

// MigrateUp applies every pending migration, each in its own transaction.
// It stops at the first failure; migrations applied before it stay.
func (m *Migrator) MigrateUp(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}
	if len(pending) == 0 {
		slog.Debug("database is up to date", "version", current)
		return result, nil
	}
	result.TargetVersion = pending[len(pending)-1].Version

	for _, mig := range pending {
		slog.Info("applying migration", "version", mig.Version, "description", mig.Description)

		err := m.apply(ctx, mig.UpSQL, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, checksum) VALUES (?, ?, ?)",
				mig.Version, mig.Description, mig.Checksum)
			return err
		})
		if err != nil {
			result.Error = fmt.Errorf("migration %d failed: %w", mig.Version, err)
			return result, result.Error
		}

		mig.Applied = true
		mig.AppliedAt = time.Now().UTC()
		result.Applied = append(result.Applied, mig)
	}

	slog.Info("migrations complete", "from", current, "to", result.TargetVersion, "applied", len(result.Applied))
	return result, nil
}

// MigrateDown rolls back the latest applied migration.
func (m *Migrator) MigrateDown(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}
	if current == 0 {
		return result, errors.New("no migrations to roll back")
	}

	i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == current })
	if i < 0 {
		return result, fmt.Errorf("migration %d not found", current)
	}
	mig := m.migrations[i]
	if mig.DownSQL == "" {
		return result, fmt.Errorf("migration %d has no rollback SQL", current)
	}

	slog.Info("rolling back migration", "version", mig.Version, "description", mig.Description)

	err = m.apply(ctx, mig.DownSQL, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		return err
	})
	if err != nil {
		result.Error = fmt.Errorf("rollback %d failed: %w", mig.Version, err)
		return result, result.Error
	}

	result.Applied = append(result.Applied, mig)
	result.TargetVersion = 0
	if i > 0 {
		result.TargetVersion = m.migrations[i-1].Version
	}
	return result, nil
}

// apply runs script and then record in one transaction.
func (m *Migrator) apply(ctx context.Context, script string, record func(tx *sqlx.Tx) error) error {
	return m.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range splitStatements(script) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing statement: %w\nSQL: %s", err, stmt)
			}
		}
		if err := record(tx); err != nil {
			return fmt.Errorf("updating schema_migrations: %w", err)
		}
		return nil
	})
}

type appliedRow struct {
	Version   int            `db:"version"`
	AppliedAt string         `db:"applied_at"`
	Checksum  sql.NullString `db:"checksum"`
}

func (m *Migrator) applied(ctx context.Context) (map[int]appliedRow, error) {
	var rows []appliedRow
	if err := m.db.SelectContext(ctx, &rows,
		"SELECT version, applied_at, checksum FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}

	byVersion := make(map[int]appliedRow, len(rows))
	for _, r := range rows {
		byVersion[r.Version] = r
	}
	return byVersion, nil
}

// Status lists every known migration with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	status := slices.Clone(m.migrations)
	for i := range status {
		if r, ok := applied[status[i].Version]; ok {
			status[i].Applied = true
			status[i].AppliedAt, _ = time.Parse(time.RFC3339, r.AppliedAt)
		}
	}
	return status, nil
}

// Verify compares the checksums recorded for applied migrations with the
// embedded files.
func (m *Migrator) Verify(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, mig := range m.migrations {
		r, ok := applied[mig.Version]
		if !ok || !r.Checksum.Valid {
			continue
		}
		if r.Checksum.String != mig.Checksum {
			errs = append(errs, fmt.Errorf("%w: version %d", ErrChecksumMismatch, mig.Version))
		}
	}
	return errors.Join(errs...)
}

// splitStatements cuts a script at semicolons outside quoted strings.
// Whole-line "--" comments are dropped.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if quote == 0 && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, ch := range line {
			switch {
			case quote != 0:
				if ch == quote {
					quote = 0
				}
			case ch == '\'' || ch == '"':
				quote = ch
			case ch == ';':
				flush()
				continue
			}
			current.WriteRune(ch)
		}
		current.WriteRune('\n')
	}
	flush()

	return statements
}
