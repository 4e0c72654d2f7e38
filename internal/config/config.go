// Package config provides configuration management for storekeeper.
// Configurations are loaded from TOML files with XDG-compliant paths and
// may be overridden from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	Database     DatabaseConfig    `toml:"database"`
	Logging      LoggingConfig     `toml:"logging"`
	Inventory    InventoryConfig   `toml:"inventory"`
	Requisitions RequisitionConfig `toml:"requisitions"`
	Events       EventsConfig      `toml:"events"`
}

// DatabaseConfig controls SQLite database settings.
type DatabaseConfig struct {
	Path                string `toml:"path"`
	BackupIntervalHours int    `toml:"backup_interval_hours"`
	BackupRetentionDays int    `toml:"backup_retention_days"`
	BusyTimeoutMS       int    `toml:"busy_timeout_ms"`
}

// BusyTimeout is how long a writer waits for the database lock.
func (d *DatabaseConfig) BusyTimeout() time.Duration {
	if d.BusyTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.BusyTimeoutMS) * time.Millisecond
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level LogLevel `toml:"level"`
	File  string   `toml:"file"`
}

// LogLevel defines logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// InventoryConfig holds stock reporting settings.
type InventoryConfig struct {
	LowStockThreshold int `toml:"low_stock_threshold"`
}

// RequisitionConfig holds requisition workflow settings.
type RequisitionConfig struct {
	// CancelOverrideRoles may cancel requisitions they do not own.
	CancelOverrideRoles []string `toml:"cancel_override_roles"`
}

// EventsConfig controls the Kafka notification publisher.
type EventsConfig struct {
	Enabled  bool     `toml:"enabled"`
	Brokers  []string `toml:"brokers"`
	Topic    string   `toml:"topic"`
	ClientID string   `toml:"client_id"`
}

// Validate checks every section and joins their errors.
func (c *Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"database", c.Database.Validate},
		{"logging", c.Logging.Validate},
		{"inventory", c.Inventory.Validate},
		{"requisitions", c.Requisitions.Validate},
		{"events", c.Events.Validate},
	}

	var errs []error
	for _, section := range sections {
		if err := section.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	var errs []error

	if d.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}

	if d.BackupIntervalHours < 0 {
		errs = append(errs, errors.New("backup_interval_hours must be non-negative"))
	}

	if d.BackupRetentionDays < 0 {
		errs = append(errs, errors.New("backup_retention_days must be non-negative"))
	}

	if d.BusyTimeoutMS < 0 {
		errs = append(errs, errors.New("busy_timeout_ms must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate accepts the known levels and an empty level, which means info.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	}
	return fmt.Errorf("invalid log level: %s", l.Level)
}

// SlogLevel maps the level onto log/slog. Unknown levels are info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (i *InventoryConfig) Validate() error {
	if i.LowStockThreshold < 0 {
		return errors.New("low_stock_threshold must be non-negative")
	}
	return nil
}

func (r *RequisitionConfig) Validate() error {
	for _, role := range r.CancelOverrideRoles {
		if strings.TrimSpace(role) == "" {
			return errors.New("cancel_override_roles must not contain empty roles")
		}
	}
	return nil
}

// Validate checks the publisher settings. Brokers and topic are only
// required when events are enabled.
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}

	var errs []error

	if len(e.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required when events are enabled"))
	}

	if e.Topic == "" {
		errs = append(errs, errors.New("topic is required when events are enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:                "storekeeper.db",
			BackupIntervalHours: 24,
			BackupRetentionDays: 30,
			BusyTimeoutMS:       5000,
		},
		Logging: LoggingConfig{
			Level: LogLevelInfo,
			File:  "",
		},
		Inventory: InventoryConfig{
			LowStockThreshold: 10,
		},
		Requisitions: RequisitionConfig{
			CancelOverrideRoles: []string{"super_admin"},
		},
		Events: EventsConfig{
			Enabled:  false,
			Brokers:  []string{"localhost:9092"},
			Topic:    "storekeeper.events",
			ClientID: "storekeeper",
		},
	}
}
