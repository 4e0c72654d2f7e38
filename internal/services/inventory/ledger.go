// Package inventory maintains the three stock counters of every store item
// and the movement ledger that explains each change to them.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/repository"
	"github.com/storekeeper/storekeeper/internal/util"
)

// DefaultLowStockThreshold is used when no threshold is configured.
const DefaultLowStockThreshold = 10

// Ledger provides stock operations.
type Ledger struct {
	db        *database.DB
	items     *repository.InventoryRepository
	publisher events.Publisher
	clock     util.Clock
	logger    *slog.Logger
	threshold int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets where restock and adjustment events go.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithClock overrides the clock used for restock stamps.
func WithClock(c util.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithLowStockThreshold sets the default threshold for LowStock and
// Statistics.
func WithLowStockThreshold(n int) Option {
	return func(l *Ledger) { l.threshold = n }
}

// NewLedger creates a new inventory ledger.
func NewLedger(db *database.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:        db,
		items:     repository.NewInventoryRepository(db.DB),
		publisher: events.Nop{},
		clock:     util.SystemClock{},
		logger:    slog.Default(),
		threshold: DefaultLowStockThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Threshold returns the configured low-stock threshold.
func (l *Ledger) Threshold() int {
	return l.threshold
}

// ============================================================================
// LEDGER PRIMITIVES
// ============================================================================

// movement describes one counter change. change computes the new levels
// from the item as read inside the transaction, or reports why the change
// is not allowed.
type movement struct {
	kind        models.MovementType
	itemID      string
	quantity    int
	actor       models.Actor
	ref         *models.Reference
	notes       string
	unitPrice   *decimal.Decimal
	restockedAt bool
	change      func(item *models.InventoryItem) (models.StockLevels, error)
}

// apply reads the item through tx, validates the change, writes the new
// levels guarded by the old ones and records the movement.
func (l *Ledger) apply(ctx context.Context, tx *sqlx.Tx, m movement) (*models.InventoryItem, error) {
	item, err := l.items.Get(ctx, tx, m.itemID)
	if err != nil {
		return nil, err
	}

	before := item.Levels()
	after, err := m.change(item)
	if err != nil {
		return nil, err
	}
	if !models.ValidLevels(after.Total, after.Available, after.Reserved) {
		return nil, apperr.New(apperr.ErrInvalidAdjustment,
			"%s of %d would leave %s with total %d, available %d, reserved %d",
			m.kind, m.quantity, item.Name, after.Total, after.Available, after.Reserved)
	}

	now := l.clock.Now()
	stamp := &now
	if !m.restockedAt {
		stamp = nil
	}

	if err := l.items.UpdateLevels(ctx, tx, item.ID, before, after, m.unitPrice, stamp); err != nil {
		if errors.Is(err, repository.ErrStaleLevels) {
			return nil, fmt.Errorf("%s stock of %s: %w", m.kind, item.ID, err)
		}
		return nil, err
	}

	mv := &models.StockMovement{
		ID:              util.NewID(),
		InventoryItemID: item.ID,
		Type:            m.kind,
		Quantity:        m.quantity,
		Before:          before,
		After:           after,
		Notes:           m.notes,
		CreatedAt:       now,
	}
	if m.ref != nil {
		mv.ReferenceType = &m.ref.Type
		mv.ReferenceID = &m.ref.ID
	}
	if m.actor.ID != "" {
		actorID := m.actor.ID
		mv.ActorID = &actorID
	}
	if err := l.items.InsertMovement(ctx, tx, mv); err != nil {
		return nil, err
	}

	item.TotalStock = after.Total
	item.AvailableStock = after.Available
	item.ReservedStock = after.Reserved
	if m.unitPrice != nil {
		item.UnitPrice = *m.unitPrice
	}
	if stamp != nil {
		item.LastRestocked = stamp
	}

	l.logger.Debug("stock movement recorded",
		"item_id", item.ID,
		"type", m.kind,
		"quantity", m.quantity,
		"available", after.Available,
		"reserved", after.Reserved,
		"total", after.Total,
	)
	return item, nil
}

// run executes fn in tx, or in a transaction of its own when tx is nil.
func (l *Ledger) run(ctx context.Context, tx *sqlx.Tx, fn func(tx *sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return l.db.WithTransaction(ctx, fn)
}

func positive(qty int) error {
	if qty <= 0 {
		return apperr.Invalid("quantity must be positive, got %d", qty).With("quantity", qty)
	}
	return nil
}

// ReserveStock moves qty from available to reserved. It runs inside the
// caller's transaction so several reservations commit or fail together.
func (l *Ledger) ReserveStock(ctx context.Context, tx *sqlx.Tx, actor models.Actor, itemID string, qty int, ref models.Reference) (*models.InventoryItem, error) {
	if err := positive(qty); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := l.run(ctx, tx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:     models.MovementReserve,
			itemID:   itemID,
			quantity: qty,
			actor:    actor,
			ref:      &ref,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				if !item.HasAvailable(qty) {
					return models.StockLevels{}, InsufficientStock(item, qty)
				}
				to := item.Levels()
				to.Available -= qty
				to.Reserved += qty
				return to, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ReleaseStock returns qty from reserved to available.
func (l *Ledger) ReleaseStock(ctx context.Context, tx *sqlx.Tx, actor models.Actor, itemID string, qty int, ref models.Reference) (*models.InventoryItem, error) {
	if err := positive(qty); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := l.run(ctx, tx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:     models.MovementRelease,
			itemID:   itemID,
			quantity: qty,
			actor:    actor,
			ref:      &ref,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				if !item.HasReserved(qty) {
					return models.StockLevels{}, apperr.New(apperr.ErrInsufficientReservation,
						"cannot release %d units of %s: only %d reserved", qty, item.Name, item.ReservedStock).
						With("item_id", item.ID).With("reserved", item.ReservedStock).With("requested", qty)
				}
				to := item.Levels()
				to.Reserved -= qty
				to.Available += qty
				return to, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CompleteTransaction consumes qty of reserved stock: the units leave the
// store, so both reserved and total drop while available is untouched.
func (l *Ledger) CompleteTransaction(ctx context.Context, tx *sqlx.Tx, actor models.Actor, itemID string, qty int, ref models.Reference) (*models.InventoryItem, error) {
	if err := positive(qty); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := l.run(ctx, tx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:     models.MovementComplete,
			itemID:   itemID,
			quantity: qty,
			actor:    actor,
			ref:      &ref,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				if !item.HasReserved(qty) {
					return models.StockLevels{}, apperr.New(apperr.ErrInsufficientReservation,
						"cannot complete %d units of %s: only %d reserved", qty, item.Name, item.ReservedStock).
						With("item_id", item.ID).With("reserved", item.ReservedStock).With("requested", qty)
				}
				to := item.Levels()
				to.Reserved -= qty
				to.Total -= qty
				return to, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ReceiveStock adds delivered units to total and available and records the
// price they were bought at as the item's unit price.
func (l *Ledger) ReceiveStock(ctx context.Context, tx *sqlx.Tx, actor models.Actor, itemID string, qty int, unitPrice decimal.Decimal, ref models.Reference) (*models.InventoryItem, error) {
	if err := positive(qty); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := l.run(ctx, tx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:      models.MovementProcure,
			itemID:    itemID,
			quantity:  qty,
			actor:     actor,
			ref:       &ref,
			unitPrice: &unitPrice,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				to := item.Levels()
				to.Total += qty
				to.Available += qty
				return to, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// InsufficientStock builds the error returned when item cannot cover qty.
func InsufficientStock(item *models.InventoryItem, qty int) error {
	return apperr.New(apperr.ErrInsufficientStock,
		"insufficient stock for %s: available %d, requested %d", item.Name, item.AvailableStock, qty).
		With("item_id", item.ID).With("available", item.AvailableStock).With("requested", qty)
}

// ============================================================================
// STOCK OPERATIONS
// ============================================================================

// Restock adds qty newly arrived units and stamps the restock time.
func (l *Ledger) Restock(ctx context.Context, actor models.Actor, itemID string, qty int, notes string) (*models.InventoryItem, error) {
	if err := positive(qty); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := l.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:        models.MovementRestock,
			itemID:      itemID,
			quantity:    qty,
			actor:       actor,
			notes:       notes,
			restockedAt: true,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				to := item.Levels()
				to.Total += qty
				to.Available += qty
				return to, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("item restocked", "item_id", item.ID, "actor_id", actor.ID, "quantity", qty, "total", item.TotalStock)
	events.Notify(ctx, l.logger, l.publisher, events.New(events.ItemRestocked, item.ID, actor.ID, map[string]any{
		"quantity":        qty,
		"total_stock":     item.TotalStock,
		"available_stock": item.AvailableStock,
	}))
	return item, nil
}

// AdjustStock overwrites all three counters, typically after a physical
// count. The new levels must be non-negative with available+reserved not
// exceeding total.
func (l *Ledger) AdjustStock(ctx context.Context, actor models.Actor, itemID string, input AdjustInput) (*models.InventoryItem, error) {
	if input.TotalStock < 0 || input.AvailableStock < 0 || input.ReservedStock < 0 {
		return nil, apperr.New(apperr.ErrInvalidAdjustment, "stock levels cannot be negative")
	}
	if input.AvailableStock+input.ReservedStock > input.TotalStock {
		return nil, apperr.New(apperr.ErrInvalidAdjustment,
			"available (%d) + reserved (%d) stock cannot exceed total stock (%d)",
			input.AvailableStock, input.ReservedStock, input.TotalStock)
	}

	target := models.StockLevels{Total: input.TotalStock, Available: input.AvailableStock, Reserved: input.ReservedStock}

	var item *models.InventoryItem
	err := l.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		item, err = l.apply(ctx, tx, movement{
			kind:   models.MovementAdjust,
			itemID: itemID,
			actor:  actor,
			notes:  input.Notes,
			change: func(item *models.InventoryItem) (models.StockLevels, error) {
				return target, nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("item stock adjusted",
		"item_id", item.ID,
		"actor_id", actor.ID,
		"total", target.Total,
		"available", target.Available,
		"reserved", target.Reserved,
	)
	events.Notify(ctx, l.logger, l.publisher, events.New(events.ItemAdjusted, item.ID, actor.ID, map[string]any{
		"total_stock":     target.Total,
		"available_stock": target.Available,
		"reserved_stock":  target.Reserved,
	}))
	return item, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// CheckAvailability answers, per line, whether the requested quantity could
// be reserved right now. Lines naming the same item are judged on their
// combined quantity, and a non-positive quantity is never available. It
// never mutates and never fails on a missing item.
func (l *Ledger) CheckAvailability(ctx context.Context, lines []models.StockLine) ([]models.AvailabilityResult, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.InventoryItemID)
	}
	items, err := l.items.GetMany(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	wanted := models.RequestedTotals(lines)

	results := make([]models.AvailabilityResult, 0, len(lines))
	for _, line := range lines {
		result := models.AvailabilityResult{
			InventoryItemID:   line.InventoryItemID,
			RequestedQuantity: line.Quantity,
		}
		item, ok := items[line.InventoryItemID]
		if !ok {
			result.Message = "Item not found"
			results = append(results, result)
			continue
		}
		result.Name = item.Name
		result.Code = item.Code
		result.AvailableStock = item.AvailableStock

		total := wanted[item.ID]
		switch {
		case line.Quantity <= 0:
			result.Message = fmt.Sprintf("Quantity must be positive, got %d", line.Quantity)
		case !item.HasAvailable(total):
			result.Message = fmt.Sprintf("Insufficient stock. Available: %d, Requested: %d", item.AvailableStock, total)
		default:
			result.Available = true
			result.Message = "Available"
		}
		results = append(results, result)
	}
	return results, nil
}

// LowStock returns active items with available stock at or below
// threshold, lowest first. A threshold below zero uses the configured one.
func (l *Ledger) LowStock(ctx context.Context, threshold int) ([]*models.InventoryItem, error) {
	if threshold < 0 {
		threshold = l.threshold
	}
	return l.items.LowStock(ctx, threshold)
}

// OutOfStock returns active items with nothing available.
func (l *Ledger) OutOfStock(ctx context.Context) ([]*models.InventoryItem, error) {
	return l.items.OutOfStock(ctx)
}

// Statistics summarises active inventory. Values are rounded to two places.
func (l *Ledger) Statistics(ctx context.Context) (*models.InventoryStatistics, error) {
	items, err := l.items.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active items: %w", err)
	}

	stats := &models.InventoryStatistics{
		TotalItems:          len(items),
		TotalStockValue:     decimal.Zero,
		AvailableStockValue: decimal.Zero,
		ReservedStockValue:  decimal.Zero,
	}
	for _, item := range items {
		if item.IsLowStock(l.threshold) {
			stats.LowStockItems++
		}
		if item.IsOutOfStock() {
			stats.OutOfStockItems++
		}
		stats.TotalStockValue = stats.TotalStockValue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.TotalStock))))
		stats.AvailableStockValue = stats.AvailableStockValue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.AvailableStock))))
		stats.ReservedStockValue = stats.ReservedStockValue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.ReservedStock))))
	}

	stats.TotalStockValue = stats.TotalStockValue.Round(2)
	stats.AvailableStockValue = stats.AvailableStockValue.Round(2)
	stats.ReservedStockValue = stats.ReservedStockValue.Round(2)
	return stats, nil
}

// Movements lists ledger entries, newest first.
func (l *Ledger) Movements(ctx context.Context, filter models.MovementFilter, page models.Pagination) (*models.MovementList, error) {
	return l.items.ListMovements(ctx, filter, page)
}

// MovementTotals sums the quantities moved for one reference and item, per
// movement type.
func (l *Ledger) MovementTotals(ctx context.Context, ref models.Reference, itemID string) (map[models.MovementType]int, error) {
	return l.items.MovementTotals(ctx, ref, itemID)
}

// ============================================================================
// CATALOGUE
// ============================================================================

// CreateItem adds an item to the catalogue.
func (l *Ledger) CreateItem(ctx context.Context, actor models.Actor, input CreateItemInput) (*models.InventoryItem, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	input.Category = strings.TrimSpace(input.Category)

	var missing []string
	if input.Code == "" {
		missing = append(missing, "code")
	}
	if input.Name == "" {
		missing = append(missing, "name")
	}
	if input.Category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return nil, apperr.Invalid("missing required fields: %s", strings.Join(missing, ", ")).With("fields", missing)
	}
	if input.UnitPrice.IsNegative() {
		return nil, apperr.Invalid("unit price cannot be negative")
	}
	if !models.ValidLevels(input.TotalStock, input.AvailableStock, input.ReservedStock) {
		return nil, apperr.New(apperr.ErrInvalidAdjustment,
			"stock levels must be non-negative with available + reserved not exceeding total")
	}

	item := &models.InventoryItem{
		ID:             util.NewID(),
		Code:           input.Code,
		Name:           input.Name,
		Category:       input.Category,
		Description:    input.Description,
		Location:       input.Location,
		UnitPrice:      input.UnitPrice,
		TotalStock:     input.TotalStock,
		AvailableStock: input.AvailableStock,
		ReservedStock:  input.ReservedStock,
		IsActive:       true,
	}
	if item.TotalStock > 0 {
		now := l.clock.Now()
		item.LastRestocked = &now
	}

	if err := l.items.Create(ctx, nil, item); err != nil {
		return nil, err
	}

	l.logger.Info("inventory item created", "item_id", item.ID, "code", item.Code, "actor_id", actor.ID)
	return item, nil
}

// GetItem retrieves an item by ID.
func (l *Ledger) GetItem(ctx context.Context, id string) (*models.InventoryItem, error) {
	return l.items.Get(ctx, nil, id)
}

// GetItemByCode retrieves an item by its store code.
func (l *Ledger) GetItemByCode(ctx context.Context, code string) (*models.InventoryItem, error) {
	return l.items.GetByCode(ctx, code)
}

// ListItems retrieves items with filtering and pagination.
func (l *Ledger) ListItems(ctx context.Context, filter models.ItemFilter, page models.Pagination) (*models.ItemList, error) {
	return l.items.List(ctx, filter, page)
}

// Categories returns the distinct item categories in order.
func (l *Ledger) Categories(ctx context.Context) ([]string, error) {
	return l.items.Categories(ctx)
}

// SetActive activates or deactivates an item. Inactive items drop out of
// low-stock reports and statistics but keep their history.
func (l *Ledger) SetActive(ctx context.Context, actor models.Actor, id string, active bool) error {
	if err := l.items.SetActive(ctx, nil, id, active); err != nil {
		return err
	}
	l.logger.Info("inventory item status changed", "item_id", id, "active", active, "actor_id", actor.ID)
	return nil
}

// DeleteItem removes an item that nothing refers to. Items with stock
// movements or used by a requisition, purchase request or procurement log
// must be deactivated instead.
func (l *Ledger) DeleteItem(ctx context.Context, actor models.Actor, id string) error {
	err := l.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := l.items.Get(ctx, tx, id); err != nil {
			return err
		}

		refs, err := l.items.References(ctx, tx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return apperr.New(apperr.ErrConflict,
				"item is referenced by %d records; deactivate it instead", refs).With("references", refs)
		}

		return l.items.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	l.logger.Info("inventory item deleted", "item_id", id, "actor_id", actor.ID)
	return nil
}
