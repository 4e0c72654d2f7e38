package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/repository"
	"github.com/storekeeper/storekeeper/internal/util"
)

// Config configures the seed data generator.
type Config struct {
	// RandomSeed makes stock levels reproducible.
	RandomSeed uint64
	// LowStockShare is the fraction of items seeded at or below a handful
	// of units, so low-stock reports have something to show.
	LowStockShare float64
	RestockedAt   time.Time
}

// DefaultConfig returns a default seed configuration.
func DefaultConfig() Config {
	return Config{
		RandomSeed:    2026,
		LowStockShare: 0.15,
		RestockedAt:   time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}
}

// Result reports what a seed run did.
type Result struct {
	Items   int
	Skipped bool
}

// Generator generates the demo catalogue.
type Generator struct {
	db    *database.DB
	cfg   Config
	rng   *rand.Rand
	items *repository.InventoryRepository
}

// NewGenerator creates a new seed data generator.
func NewGenerator(db *database.DB, cfg Config) *Generator {
	return &Generator{
		db:    db,
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.RandomSeed, cfg.RandomSeed^0x5eed)),
		items: repository.NewInventoryRepository(db.DB),
	}
}

// Generate inserts the catalogue when the inventory is empty. An inventory
// that already holds items is left untouched.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	count, err := g.items.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting inventory items: %w", err)
	}
	if count > 0 {
		slog.Info("inventory already populated, skipping seed", "items", count)
		return &Result{Skipped: true}, nil
	}

	slog.Info("starting seed data generation", "items", len(Catalogue), "seed", g.cfg.RandomSeed)

	err = g.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i, entry := range Catalogue {
			item, err := g.buildItem(i, entry)
			if err != nil {
				return err
			}
			if err := g.items.Create(ctx, tx, item); err != nil {
				return fmt.Errorf("inserting item %s: %w", entry.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("seed data generation complete", "items", len(Catalogue))
	return &Result{Items: len(Catalogue)}, nil
}

func (g *Generator) buildItem(i int, entry CatalogueItem) (*models.InventoryItem, error) {
	price, err := decimal.NewFromString(entry.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing price of %s: %w", entry.Code, err)
	}

	total := entry.Base/2 + g.rng.IntN(entry.Base+1)
	if g.rng.Float64() < g.cfg.LowStockShare {
		total = g.rng.IntN(6)
	}

	item := &models.InventoryItem{
		ID:             util.NewID(),
		Code:           entry.Code,
		Name:           entry.Name,
		Category:       entry.Category,
		Description:    entry.Description,
		Location:       Locations[i%len(Locations)],
		UnitPrice:      price,
		TotalStock:     total,
		AvailableStock: total,
		IsActive:       true,
	}
	if total > 0 {
		restocked := g.cfg.RestockedAt
		item.LastRestocked = &restocked
	}
	return item, nil
}
