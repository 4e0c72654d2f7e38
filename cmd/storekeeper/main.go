// storekeeper: store inventory, requisition and procurement management.
//
// Tracks stock with a reservation ledger so promised goods never exceed
// what is on the shelf, and runs staff requisitions from approval through
// collection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storekeeper/storekeeper/internal/cli"
	"github.com/storekeeper/storekeeper/internal/config"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
)

// Set with -ldflags at release build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second chance to finish the running command, then give up.
	go func() {
		<-ctx.Done()
		time.AfterFunc(10*time.Second, func() {
			slog.Error("command did not stop after interrupt, exiting")
			os.Exit(cli.ExitCommandError)
		})
	}()

	root := cli.NewRootCommand(bootstrap)
	root.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return
	}
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err == nil {
		// Usage errors have not been printed yet.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}

// bootstrap loads configuration, sets up logging and opens the database for
// one command.
func bootstrap(ctx context.Context, opts *cli.RootOptions, migrate bool) (*cli.App, error) {
	cfg, cfgPath, err := config.Load(opts.ConfigPath, true)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}

	logger, logFile, err := setupLogging(cfg, opts.Debug)
	if err != nil {
		return nil, err
	}
	closeLog := func() error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}

	slog.Debug("storekeeper starting",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cfgPath,
	)

	db, err := openDatabase(ctx, cfg, migrate)
	if err != nil {
		closeLog()
		return nil, err
	}

	app := cli.NewApp(cfg, db, events.NewPublisher(cfg.Events), logger)
	app.OnClose(closeLog)
	app.OnClose(func() error {
		slog.Debug("closing database")
		return db.Close()
	})
	return app, nil
}

func setupLogging(cfg *config.Config, debug bool) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: cfg.Logging.Level.SlogLevel()}
	if debug {
		opts.Level = slog.LevelDebug
	}

	logPath, err := config.EnsureLogDir(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	if logPath == "" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
		return logger, nil, nil
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(logFile, opts))
	slog.SetDefault(logger)
	return logger, logFile, nil
}

// openDatabase repairs the store file if it needs it, opens it and, when
// migrate is set, brings the schema up to date.
func openDatabase(ctx context.Context, cfg *config.Config, migrate bool) (*database.DB, error) {
	dbPath, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring data directory: %w", err)
	}

	// Without a backup directory the store still opens; it just cannot be
	// restored or backed up.
	backupDir, err := config.BackupDir(cfg)
	if err != nil {
		slog.Warn("backups disabled", "error", err)
		backupDir = ""
	}

	if _, err := database.AttemptRecovery(ctx, dbPath, backupDir); err != nil {
		return nil, fmt.Errorf("database recovery failed: %w", err)
	}

	db, err := database.Open(dbPath, &cfg.Database, backupDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if !migrate {
		return db, nil
	}

	result, err := database.Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if n := len(result.Applied); n > 0 {
		slog.Info("schema migrated", "applied", n, "version", result.TargetVersion)
	}
	return db, nil
}
