package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Inventory.LowStockThreshold != 10 {
		t.Errorf("LowStockThreshold = %d, want 10", cfg.Inventory.LowStockThreshold)
	}
	if len(cfg.Requisitions.CancelOverrideRoles) != 1 || cfg.Requisitions.CancelOverrideRoles[0] != "super_admin" {
		t.Errorf("CancelOverrideRoles = %v", cfg.Requisitions.CancelOverrideRoles)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Missing db path", func(c *Config) { c.Database.Path = "" }, "path is required"},
		{"Negative retention", func(c *Config) { c.Database.BackupRetentionDays = -1 }, "backup_retention_days"},
		{"Bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"Negative threshold", func(c *Config) { c.Inventory.LowStockThreshold = -5 }, "low_stock_threshold"},
		{"Blank override role", func(c *Config) { c.Requisitions.CancelOverrideRoles = []string{" "} }, "cancel_override_roles"},
		{"Events without brokers", func(c *Config) {
			c.Events.Enabled = true
			c.Events.Brokers = nil
		}, "brokers are required"},
		{"Disabled events skip checks", func(c *Config) {
			c.Events.Brokers = nil
			c.Events.Topic = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_BusyTimeout(t *testing.T) {
	if got := (&DatabaseConfig{}).BusyTimeout(); got != 5*time.Second {
		t.Errorf("zero BusyTimeout() = %v, want 5s", got)
	}
	if got := (&DatabaseConfig{BusyTimeoutMS: 250}).BusyTimeout(); got != 250*time.Millisecond {
		t.Errorf("BusyTimeout() = %v, want 250ms", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"STOREKEEPER_DB_PATH":               "/tmp/stores.db",
		"STOREKEEPER_LOG_LEVEL":             "DEBUG",
		"STOREKEEPER_LOW_STOCK_THRESHOLD":   "3",
		"STOREKEEPER_CANCEL_OVERRIDE_ROLES": "admin, super_admin",
		"STOREKEEPER_EVENTS_ENABLED":        "true",
		"STOREKEEPER_KAFKA_BROKERS":         "k1:9092,k2:9092",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/stores.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != LogLevelDebug {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Inventory.LowStockThreshold != 3 {
		t.Errorf("LowStockThreshold = %d", cfg.Inventory.LowStockThreshold)
	}
	if got := cfg.Requisitions.CancelOverrideRoles; len(got) != 2 || got[0] != "admin" || got[1] != "super_admin" {
		t.Errorf("CancelOverrideRoles = %v", got)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 2 {
		t.Errorf("Events = %+v", cfg.Events)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "STOREKEEPER_LOW_STOCK_THRESHOLD" {
			return "ten", true
		}
		return "", false
	}

	cfg := Default()
	err := ApplyEnv(cfg, lookup)
	if err == nil || !strings.Contains(err.Error(), "STOREKEEPER_LOW_STOCK_THRESHOLD") {
		t.Fatalf("ApplyEnv() error = %v, want threshold parse error", err)
	}
	if cfg.Inventory.LowStockThreshold != 10 {
		t.Errorf("threshold changed to %d on parse failure", cfg.Inventory.LowStockThreshold)
	}
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	content := `
[database]
path = "custom.db"

[inventory]
low_stock_threshold = 25
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, loadedFrom, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loadedFrom != path {
		t.Errorf("loaded from %q, want %q", loadedFrom, path)
	}
	if cfg.Database.Path != "custom.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Inventory.LowStockThreshold != 25 {
		t.Errorf("LowStockThreshold = %d, want 25", cfg.Inventory.LowStockThreshold)
	}
	// Unset sections keep their defaults.
	if cfg.Database.BackupRetentionDays != 30 {
		t.Errorf("BackupRetentionDays = %d, want default 30", cfg.Database.BackupRetentionDays)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"shout\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := Load(path, false)
	if err == nil {
		t.Fatal("Load() expected validation error")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Path != path {
		t.Errorf("Load() error = %v, want *LoadError for %s", err, path)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultConfigFileName)
	cfg := Default()
	cfg.Events.Topic = "stores.audit"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if loaded.Events.Topic != "stores.audit" {
		t.Errorf("Events.Topic = %q", loaded.Events.Topic)
	}
}

func TestConfigPath_Explicit(t *testing.T) {
	if got := ConfigPath("/etc/storekeeper.toml"); got != "/etc/storekeeper.toml" {
		t.Errorf("ConfigPath() = %q", got)
	}
}
