package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/storekeeper/storekeeper/internal/config"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
	"github.com/storekeeper/storekeeper/internal/services/inventory"
	"github.com/storekeeper/storekeeper/internal/services/procurement"
	"github.com/storekeeper/storekeeper/internal/services/requisitions"
)

// App holds the services a command runs against.
type App struct {
	Config           *config.Config
	DB               *database.DB
	Ledger           *inventory.Ledger
	Requisitions     *requisitions.Service
	Procurement      *procurement.Service
	PurchaseRequests *procurement.Requests
	Publisher        events.Publisher

	closers []func() error
}

// AppFactory opens the database and builds an App. migrate is false for
// commands that manage the schema themselves.
type AppFactory func(ctx context.Context, opts *RootOptions, migrate bool) (*App, error)

// NewApp wires the services over db.
func NewApp(cfg *config.Config, db *database.DB, publisher events.Publisher, logger *slog.Logger) *App {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ledger := inventory.NewLedger(db,
		inventory.WithPublisher(publisher),
		inventory.WithLogger(logger),
		inventory.WithLowStockThreshold(cfg.Inventory.LowStockThreshold),
	)

	return &App{
		Config: cfg,
		DB:     db,
		Ledger: ledger,
		Requisitions: requisitions.NewService(db, ledger,
			requisitions.WithPublisher(publisher),
			requisitions.WithLogger(logger),
			requisitions.WithCancelOverrideRoles(cfg.Requisitions.CancelOverrideRoles),
		),
		Procurement: procurement.NewService(db, ledger,
			procurement.WithPublisher(publisher),
			procurement.WithLogger(logger),
		),
		PurchaseRequests: procurement.NewRequests(db,
			procurement.WithPublisher(publisher),
			procurement.WithLogger(logger),
		),
		Publisher: publisher,
	}
}

// OnClose registers fn to run when the App is closed. Closers run in
// reverse order of registration.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close flushes the publisher and runs the registered closers.
func (a *App) Close() error {
	errs := []error{a.Publisher.Close()}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
