package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// DefaultConfigFileName is the standard configuration file name.
	DefaultConfigFileName = "storekeeper.toml"

	// XDGConfigSubdir is the subdirectory under the XDG base directories.
	XDGConfigSubdir = "storekeeper"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "STOREKEEPER_"
)

// LoadError reports which source a configuration failure came from.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load resolves the configuration. The first existing file among the
// explicit path, $XDG_CONFIG_HOME/storekeeper/storekeeper.toml and
// ./storekeeper.toml is decoded over Default(); without one the defaults
// are used and, if createDefault is set, written out. STOREKEEPER_*
// variables, including those from an optional .env file, are applied last.
//
// The returned path is empty when nothing was read or written.
func Load(explicitPath string, createDefault bool) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", &LoadError{Path: ".env", Err: err}
	}

	cfg, path, err := locate(explicitPath, createDefault)
	if err != nil {
		return nil, "", err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, "", &LoadError{Path: "environment", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", &LoadError{Path: path, Err: fmt.Errorf("validating config: %w", err)}
	}
	return cfg, path, nil
}

// searchPaths lists the files Load considers, highest precedence first.
func searchPaths() []string {
	var paths []string
	if xdg := xdgConfigPath(); xdg != "" {
		paths = append(paths, xdg)
	}
	return append(paths, filepath.Join(".", DefaultConfigFileName))
}

func locate(explicitPath string, createDefault bool) (*Config, string, error) {
	if explicitPath != "" {
		cfg, err := loadFromFile(explicitPath)
		if err != nil {
			return nil, "", &LoadError{Path: explicitPath, Err: err}
		}
		return cfg, explicitPath, nil
	}

	for _, path := range searchPaths() {
		if !fileExists(path) {
			continue
		}
		cfg, err := loadFromFile(path)
		if err != nil {
			return nil, "", &LoadError{Path: path, Err: err}
		}
		return cfg, path, nil
	}

	cfg := Default()
	if !createDefault {
		return cfg, "", nil
	}

	// The first search path is where a new file is expected.
	target := searchPaths()[0]
	if err := Save(cfg, target); err != nil {
		slog.Debug("could not write default configuration", "path", target, "error", err)
		return cfg, "", nil
	}
	return cfg, target, nil
}

// loadFromFile decodes a TOML file over the defaults. Keys that match no
// setting are logged and otherwise ignored.
func loadFromFile(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if unknown := meta.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		slog.Warn("ignoring unknown configuration keys", "path", path, "keys", keys)
	}
	return cfg, nil
}

// envBinding maps one environment variable onto a setting.
type envBinding struct {
	key string
	set func(value string) error
}

func bindString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func bindInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func bindBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// bindList splits a comma separated value and drops empty entries.
func bindList(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
		return nil
	}
}

func envBindings(cfg *Config) []envBinding {
	return []envBinding{
		{"DB_PATH", bindString(&cfg.Database.Path)},
		{"BACKUP_INTERVAL_HOURS", bindInt(&cfg.Database.BackupIntervalHours)},
		{"BACKUP_RETENTION_DAYS", bindInt(&cfg.Database.BackupRetentionDays)},
		{"BUSY_TIMEOUT_MS", bindInt(&cfg.Database.BusyTimeoutMS)},
		{"LOG_LEVEL", func(v string) error {
			cfg.Logging.Level = LogLevel(strings.ToLower(strings.TrimSpace(v)))
			return nil
		}},
		{"LOG_FILE", bindString(&cfg.Logging.File)},
		{"LOW_STOCK_THRESHOLD", bindInt(&cfg.Inventory.LowStockThreshold)},
		{"CANCEL_OVERRIDE_ROLES", bindList(&cfg.Requisitions.CancelOverrideRoles)},
		{"EVENTS_ENABLED", bindBool(&cfg.Events.Enabled)},
		{"KAFKA_BROKERS", bindList(&cfg.Events.Brokers)},
		{"KAFKA_TOPIC", bindString(&cfg.Events.Topic)},
		{"KAFKA_CLIENT_ID", bindString(&cfg.Events.ClientID)},
	}
}

// ApplyEnv overrides cfg from STOREKEEPER_* variables found by lookup. A
// value that does not parse leaves its setting unchanged and is reported.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings(cfg) {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err))
		}
	}
	return errors.Join(errs...)
}

const fileHeader = `# storekeeper configuration
#
# This file was auto-generated. Edit as needed.
# Any value may be overridden with a STOREKEEPER_* environment variable.

`

// Save writes cfg as TOML, replacing path only once the whole file is
// written.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0640); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}

// xdgDir resolves an XDG base directory: the variable if set, otherwise
// fallback under the home directory. Empty when neither is available.
func xdgDir(envVar string, fallback ...string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, XDGConfigSubdir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{home}, fallback...), XDGConfigSubdir)...)
}

func xdgConfigPath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, DefaultConfigFileName)
}

func xdgDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ConfigPath returns the file Load would read, or the one it would create.
func ConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	paths := searchPaths()
	for _, path := range paths {
		if fileExists(path) {
			return path
		}
	}
	return paths[0]
}

// EnsureDataDir returns the database path, creating its directory. Relative
// paths are placed under the XDG data directory when there is one.
func EnsureDataDir(cfg *Config) (string, error) {
	dbPath := cfg.Database.Path
	switch {
	case dbPath == ":memory:":
		return dbPath, nil
	case filepath.IsAbs(dbPath):
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return "", fmt.Errorf("creating database directory: %w", err)
		}
		return dbPath, nil
	}

	dataDir := xdgDataDir()
	if dataDir == "" {
		return dbPath, nil
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		slog.Warn("falling back to working directory for database", "data_dir", dataDir, "error", err)
		return dbPath, nil
	}
	return filepath.Join(dataDir, dbPath), nil
}

// EnsureLogDir creates the log directory if needed. An empty file disables
// file logging.
func EnsureLogDir(cfg *Config) (string, error) {
	logPath := cfg.Logging.File
	if logPath == "" {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return logPath, nil
}

// BackupDir returns the directory for database backups, next to an absolute
// database path or under the XDG data directory.
func BackupDir(cfg *Config) (string, error) {
	dir := "backups"
	if dbPath := cfg.Database.Path; filepath.IsAbs(dbPath) {
		dir = filepath.Join(filepath.Dir(dbPath), "backups")
	} else if data := xdgDataDir(); data != "" {
		dir = filepath.Join(data, "backups")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	return dir, nil
}
