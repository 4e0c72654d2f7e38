// Package cli implements the storekeeper command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Format     string // "text" | "json" | "yaml"
	Debug      bool
	ActorID    string
	Role       string
}

// Actor returns the caller the command acts as.
func (o *RootOptions) Actor() models.Actor {
	return models.Actor{ID: o.ActorID, Role: models.Role(o.Role)}
}

// command carries the shared state of every subcommand.
type command struct {
	opts *RootOptions
	open AppFactory
}

// NewRootCommand creates the root command. open is called once per command
// invocation, after flags are parsed.
func NewRootCommand(open AppFactory) *cobra.Command {
	c := &command{opts: &RootOptions{}, open: open}

	cmd := &cobra.Command{
		Use:   "storekeeper",
		Short: "Store inventory, requisitions and procurement",
		Long: `storekeeper tracks store inventory with a reservation ledger, runs staff
requisitions from approval through collection, and records procurement
deliveries and purchase requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, c.opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", c.opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.opts.ConfigPath, "config", "", "path to configuration file")
	flags.StringVar(&c.opts.DBPath, "db", "", "database path (overrides configuration)")
	flags.StringVar(&c.opts.Format, "format", FormatText, "output format (text|json|yaml)")
	flags.BoolVar(&c.opts.Debug, "debug", false, "enable debug logging")
	flags.StringVar(&c.opts.ActorID, "actor", "", "id of the user performing the operation")
	flags.StringVar(&c.opts.Role, "role", string(models.RoleStaff), "role of the acting user")

	cmd.AddCommand(
		c.migrateCommand(),
		c.seedCommand(),
		c.backupCommand(),
		c.doctorCommand(),
		c.itemCommand(),
		c.availabilityCommand(),
		c.requisitionCommand(),
		c.procurementCommand(),
		c.purchaseRequestCommand(),
	)

	return cmd
}

func (c *command) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    c.opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   c.opts.Debug,
	}
}

// run opens the App, hands it to fn and reports any failure through the
// formatter.
func (c *command) run(cmd *cobra.Command, fn func(ctx context.Context, app *App, out *OutputFormatter) error) error {
	return c.runWith(cmd, true, fn)
}

func (c *command) runWith(cmd *cobra.Command, migrate bool, fn func(ctx context.Context, app *App, out *OutputFormatter) error) error {
	out := c.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := c.open(ctx, c.opts, migrate)
	if err != nil {
		out.Error(string(apperr.CodeInternal), err.Error(), nil)
		return WrapExitError(ExitCommandError, "starting storekeeper", err)
	}
	defer app.Close()

	if err := fn(ctx, app, out); err != nil {
		return out.Fail(err)
	}
	return nil
}

// actor returns the acting user, refusing commands that modify state
// without one.
func (c *command) actor() (models.Actor, error) {
	if c.opts.ActorID == "" {
		return models.Actor{}, apperr.Invalid("--actor is required for this command")
	}
	return c.opts.Actor(), nil
}
