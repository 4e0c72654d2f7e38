package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/database/seed"
)

// MigrateSummary is the output of migrate and migrate down.
type MigrateSummary struct {
	Applied []int `json:"applied" yaml:"applied"`
	Version int   `json:"version" yaml:"version"`
}

func (c *command) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWith(cmd, false, func(ctx context.Context, app *App, out *OutputFormatter) error {
				migrator, err := database.NewMigrator(app.DB)
				if err != nil {
					return err
				}
				result, err := migrator.MigrateUp(ctx)
				if err != nil {
					return err
				}
				return out.Result(summarize(result), func(w io.Writer) {
					fmt.Fprintf(w, "applied %d migration(s), schema at version %d\n", len(result.Applied), result.TargetVersion)
				})
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWith(cmd, false, func(ctx context.Context, app *App, out *OutputFormatter) error {
				migrator, err := database.NewMigrator(app.DB)
				if err != nil {
					return err
				}
				status, err := migrator.Status(ctx)
				if err != nil {
					return err
				}
				return out.Result(status, func(w io.Writer) {
					fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
					for _, m := range status {
						applied := "pending"
						if m.Applied {
							applied = m.AppliedAt.Format("2006-01-02 15:04")
						}
						fmt.Fprintf(w, "%03d\t%s\t%s\n", m.Version, m.Description, applied)
					}
				})
			})
		},
	}, &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWith(cmd, false, func(ctx context.Context, app *App, out *OutputFormatter) error {
				migrator, err := database.NewMigrator(app.DB)
				if err != nil {
					return err
				}
				result, err := migrator.MigrateDown(ctx)
				if err != nil {
					return err
				}
				return out.Result(summarize(result), func(w io.Writer) {
					fmt.Fprintf(w, "rolled back %d migration(s), schema at version %d\n", len(result.Applied), result.TargetVersion)
				})
			})
		},
	})

	return cmd
}

func summarize(result *database.MigrationResult) MigrateSummary {
	s := MigrateSummary{Applied: []int{}, Version: result.TargetVersion}
	for _, m := range result.Applied {
		s.Applied = append(s.Applied, m.Version)
	}
	return s
}

func (c *command) seedCommand() *cobra.Command {
	var randomSeed uint64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo catalogue into an empty inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				cfg := seed.DefaultConfig()
				if cmd.Flags().Changed("random-seed") {
					cfg.RandomSeed = randomSeed
				}
				result, err := seed.NewGenerator(app.DB, cfg).Generate(ctx)
				if err != nil {
					return err
				}
				return out.Result(result, func(w io.Writer) {
					if result.Skipped {
						fmt.Fprintln(w, "inventory already populated, nothing seeded")
						return
					}
					fmt.Fprintf(w, "seeded %d items\n", result.Items)
				})
			})
		},
	}

	cmd.Flags().Uint64Var(&randomSeed, "random-seed", seed.DefaultConfig().RandomSeed, "seed for generated stock levels")
	return cmd
}

func (c *command) backupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database to the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				path, err := app.DB.Backup(ctx)
				if err != nil {
					return err
				}
				return out.Result(map[string]string{"path": path}, func(w io.Writer) {
					fmt.Fprintf(w, "backup written to %s\n", path)
				})
			})
		},
	}
}

// DoctorReport is the output of doctor.
type DoctorReport struct {
	Healthy    bool            `json:"healthy" yaml:"healthy"`
	Integrity  string          `json:"integrity" yaml:"integrity"`
	Migrations string          `json:"migrations" yaml:"migrations"`
	Pending    int             `json:"pending_migrations" yaml:"pending_migrations"`
	Stats      *database.Stats `json:"stats" yaml:"stats"`
}

func (c *command) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the database file, schema and backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWith(cmd, false, func(ctx context.Context, app *App, out *OutputFormatter) error {
				if err := app.DB.HealthCheck(ctx); err != nil {
					return err
				}

				report := DoctorReport{Healthy: true, Integrity: "ok", Migrations: "ok"}
				if err := app.DB.CheckIntegrity(ctx); err != nil {
					report.Healthy = false
					report.Integrity = err.Error()
				}

				migrator, err := database.NewMigrator(app.DB)
				if err != nil {
					return err
				}
				if err := migrator.Verify(ctx); err != nil {
					report.Healthy = false
					report.Migrations = err.Error()
				}
				pending, err := migrator.PendingMigrations(ctx)
				if err != nil {
					return err
				}
				report.Pending = len(pending)

				if report.Stats, err = app.DB.GetStats(ctx); err != nil {
					return err
				}

				return out.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "Integrity:\t%s\n", report.Integrity)
					fmt.Fprintf(w, "Migrations:\t%s (%d pending)\n", report.Migrations, report.Pending)
					fmt.Fprintf(w, "Database:\t%s\n", report.Stats.Path)
					fmt.Fprintf(w, "Size:\t%d bytes (WAL %d bytes)\n", report.Stats.SizeBytes, report.Stats.WALSizeBytes)
					fmt.Fprintf(w, "Pages:\t%d of %d bytes, %d free\n", report.Stats.PageCount, report.Stats.PageSize, report.Stats.FreePageCount)
					fmt.Fprintf(w, "Journal mode:\t%s\n", report.Stats.JournalMode)
					fmt.Fprintf(w, "Backups:\t%d\n", report.Stats.Backups)
				})
			})
		},
	}
}
