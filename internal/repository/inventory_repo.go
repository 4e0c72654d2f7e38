package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

// ErrStaleLevels is returned by UpdateLevels when the stored counters no
// longer match the ones the caller read.
var ErrStaleLevels = errors.New("stock levels changed concurrently")

// InventoryRepository handles inventory items and their stock movements.
type InventoryRepository struct {
	db *sqlx.DB
}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository(db *sqlx.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

type itemRow struct {
	ID             string         `db:"id"`
	Code           string         `db:"code"`
	Name           string         `db:"name"`
	Category       string         `db:"category"`
	Description    sql.NullString `db:"description"`
	Location       sql.NullString `db:"location"`
	UnitPrice      string         `db:"unit_price"`
	TotalStock     int            `db:"total_stock"`
	AvailableStock int            `db:"available_stock"`
	ReservedStock  int            `db:"reserved_stock"`
	IsActive       int            `db:"is_active"`
	LastRestocked  sql.NullString `db:"last_restocked"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

const itemColumns = `id, code, name, category, description, location, unit_price,
	total_stock, available_stock, reserved_stock, is_active, last_restocked,
	created_at, updated_at`

func (r itemRow) toModel() (*models.InventoryItem, error) {
	price, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing unit price of item %s: %w", r.ID, err)
	}
	item := &models.InventoryItem{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		Category:       r.Category,
		Description:    r.Description.String,
		Location:       r.Location.String,
		UnitPrice:      price,
		TotalStock:     r.TotalStock,
		AvailableStock: r.AvailableStock,
		ReservedStock:  r.ReservedStock,
		IsActive:       r.IsActive != 0,
	}
	if item.LastRestocked, err = timestampPtr(r.LastRestocked); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = timestamp(r.CreatedAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = timestamp(r.UpdatedAt); err != nil {
		return nil, err
	}
	return item, nil
}

func itemsFromRows(rows []itemRow) ([]*models.InventoryItem, error) {
	items := make([]*models.InventoryItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create inserts a new inventory item.
func (r *InventoryRepository) Create(ctx context.Context, tx *sqlx.Tx, item *models.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (
			id, code, name, category, description, location, unit_price,
			total_stock, available_stock, reserved_stock, is_active, last_restocked,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := execer(r.db, tx).ExecContext(ctx, query,
		item.ID,
		item.Code,
		item.Name,
		item.Category,
		nullableString(item.Description),
		nullableString(item.Location),
		item.UnitPrice.String(),
		item.TotalStock,
		item.AvailableStock,
		item.ReservedStock,
		boolToInt(item.IsActive),
		nullableTimestamp(item.LastRestocked),
		util.FormatTimestamp(item.CreatedAt),
		util.FormatTimestamp(item.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return apperr.New(apperr.ErrConflict, "an item with code %s already exists", item.Code).With("code", item.Code)
	}
	if err != nil {
		return fmt.Errorf("inserting inventory item: %w", err)
	}
	return nil
}

// Get retrieves an item by ID.
func (r *InventoryRepository) Get(ctx context.Context, tx *sqlx.Tx, id string) (*models.InventoryItem, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, execer(r.db, tx), &row,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("inventory item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting inventory item: %w", err)
	}
	return row.toModel()
}

// GetByCode retrieves an item by its unique code.
func (r *InventoryRepository) GetByCode(ctx context.Context, code string) (*models.InventoryItem, error) {
	var row itemRow
	err := r.db.GetContext(ctx, &row, `SELECT `+itemColumns+` FROM inventory_items WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("inventory item", code)
	}
	if err != nil {
		return nil, fmt.Errorf("getting inventory item by code: %w", err)
	}
	return row.toModel()
}

// GetMany loads the items with the given IDs, keyed by ID. Missing IDs are
// absent from the map.
func (r *InventoryRepository) GetMany(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]*models.InventoryItem, error) {
	out := make(map[string]*models.InventoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM inventory_items WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building item query: %w", err)
	}

	q := execer(r.db, tx)
	var rows []itemRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("loading inventory items: %w", err)
	}

	items, err := itemsFromRows(rows)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// List retrieves items ordered by name.
func (r *InventoryRepository) List(ctx context.Context, filter models.ItemFilter, page models.Pagination) (*models.ItemList, error) {
	var w where
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		w.add(`(name LIKE ? ESCAPE '\' OR code LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`, p, p, p)
	}
	if filter.ActiveOnly {
		w.add("is_active = 1")
	}
	if filter.InStockOnly {
		w.add("available_stock > 0")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM inventory_items "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("counting inventory items: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM inventory_items %s ORDER BY name, code LIMIT ? OFFSET ?`, itemColumns, w.String())
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, append(w.args, page.Limit(), page.Offset())...); err != nil {
		return nil, fmt.Errorf("listing inventory items: %w", err)
	}

	items, err := itemsFromRows(rows)
	if err != nil {
		return nil, err
	}

	list := &models.ItemList{Items: items, Total: total}
	list.Page, list.TotalPages = pageOf(page, total)
	return list, nil
}

// Categories returns the distinct item categories in order.
func (r *InventoryRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := r.db.SelectContext(ctx, &categories,
		`SELECT DISTINCT category FROM inventory_items ORDER BY category`); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

// LowStock returns active items whose available stock is at or below
// threshold, least available first.
func (r *InventoryRepository) LowStock(ctx context.Context, threshold int) ([]*models.InventoryItem, error) {
	var rows []itemRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+itemColumns+` FROM inventory_items
		WHERE is_active = 1 AND available_stock <= ?
		ORDER BY available_stock, name`, threshold)
	if err != nil {
		return nil, fmt.Errorf("listing low stock items: %w", err)
	}
	return itemsFromRows(rows)
}

// OutOfStock returns active items with nothing available.
func (r *InventoryRepository) OutOfStock(ctx context.Context) ([]*models.InventoryItem, error) {
	var rows []itemRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+itemColumns+` FROM inventory_items
		WHERE is_active = 1 AND available_stock <= 0
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing out of stock items: %w", err)
	}
	return itemsFromRows(rows)
}

// Active returns every active item. Used for statistics, which are summed
// in Go to keep decimal precision.
func (r *InventoryRepository) Active(ctx context.Context) ([]*models.InventoryItem, error) {
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+itemColumns+` FROM inventory_items WHERE is_active = 1 ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing active items: %w", err)
	}
	return itemsFromRows(rows)
}

// UpdateLevels moves an item's counters from one snapshot to another. The
// update only applies if the stored counters still equal from, and the
// schema CHECK constraints reject any target that breaks the ledger
// invariants. A non-nil unitPrice overwrites the price and a non-nil
// restockedAt stamps last_restocked.
func (r *InventoryRepository) UpdateLevels(ctx context.Context, tx *sqlx.Tx, id string, from, to models.StockLevels, unitPrice *decimal.Decimal, restockedAt *time.Time) error {
	sets := []string{"total_stock = ?", "available_stock = ?", "reserved_stock = ?", "updated_at = ?"}
	args := []any{to.Total, to.Available, to.Reserved, util.FormatTimestamp(time.Now())}

	if unitPrice != nil {
		sets = append(sets, "unit_price = ?")
		args = append(args, unitPrice.String())
	}
	if restockedAt != nil {
		sets = append(sets, "last_restocked = ?")
		args = append(args, util.FormatTimestamp(*restockedAt))
	}

	query := fmt.Sprintf(`
		UPDATE inventory_items SET %s
		WHERE id = ? AND total_stock = ? AND available_stock = ? AND reserved_stock = ?`,
		strings.Join(sets, ", "))
	args = append(args, id, from.Total, from.Available, from.Reserved)

	result, err := execer(r.db, tx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating stock levels: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking stock update: %w", err)
	}
	if n == 0 {
		return ErrStaleLevels
	}
	return nil
}

// SetActive toggles whether an item appears in active listings.
func (r *InventoryRepository) SetActive(ctx context.Context, tx *sqlx.Tx, id string, active bool) error {
	result, err := execer(r.db, tx).ExecContext(ctx,
		`UPDATE inventory_items SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), util.FormatTimestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating item status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("inventory item", id)
	}
	return nil
}

// References counts the stock movements, requisition lines, purchase request
// lines and procurement logs that point at an item.
func (r *InventoryRepository) References(ctx context.Context, tx *sqlx.Tx, id string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, execer(r.db, tx), &n, `
		SELECT
			(SELECT COUNT(*) FROM stock_movements WHERE inventory_item_id = ?) +
			(SELECT COUNT(*) FROM requisition_items WHERE inventory_item_id = ?) +
			(SELECT COUNT(*) FROM purchase_request_items WHERE inventory_item_id = ?) +
			(SELECT COUNT(*) FROM procurement_logs WHERE inventory_item_id = ?)`,
		id, id, id, id)
	if err != nil {
		return 0, fmt.Errorf("counting item references: %w", err)
	}
	return n, nil
}

// Delete removes an item row. Movements are never deleted, so an item with
// history fails on its foreign key.
func (r *InventoryRepository) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	result, err := execer(r.db, tx).ExecContext(ctx, `DELETE FROM inventory_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting inventory item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("inventory item", id)
	}
	return nil
}

// Count returns the number of items in the catalogue.
func (r *InventoryRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM inventory_items`); err != nil {
		return 0, fmt.Errorf("counting inventory items: %w", err)
	}
	return n, nil
}

// ============================================================================
// STOCK MOVEMENTS
// ============================================================================

type movementRow struct {
	ID              string         `db:"id"`
	InventoryItemID string         `db:"inventory_item_id"`
	MovementType    string         `db:"movement_type"`
	Quantity        int            `db:"quantity"`
	TotalBefore     int            `db:"total_before"`
	AvailableBefore int            `db:"available_before"`
	ReservedBefore  int            `db:"reserved_before"`
	TotalAfter      int            `db:"total_after"`
	AvailableAfter  int            `db:"available_after"`
	ReservedAfter   int            `db:"reserved_after"`
	ReferenceType   sql.NullString `db:"reference_type"`
	ReferenceID     sql.NullString `db:"reference_id"`
	ActorID         sql.NullString `db:"actor_id"`
	Notes           sql.NullString `db:"notes"`
	CreatedAt       string         `db:"created_at"`
}

func (r movementRow) toModel() (*models.StockMovement, error) {
	created, err := timestamp(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &models.StockMovement{
		ID:              r.ID,
		InventoryItemID: r.InventoryItemID,
		Type:            models.MovementType(r.MovementType),
		Quantity:        r.Quantity,
		Before:          models.StockLevels{Total: r.TotalBefore, Available: r.AvailableBefore, Reserved: r.ReservedBefore},
		After:           models.StockLevels{Total: r.TotalAfter, Available: r.AvailableAfter, Reserved: r.ReservedAfter},
		ReferenceType:   stringPtr(r.ReferenceType),
		ReferenceID:     stringPtr(r.ReferenceID),
		ActorID:         stringPtr(r.ActorID),
		Notes:           r.Notes.String,
		CreatedAt:       created,
	}, nil
}

// InsertMovement appends a stock ledger row.
func (r *InventoryRepository) InsertMovement(ctx context.Context, tx *sqlx.Tx, m *models.StockMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	row := movementRow{
		ID:              m.ID,
		InventoryItemID: m.InventoryItemID,
		MovementType:    string(m.Type),
		Quantity:        m.Quantity,
		TotalBefore:     m.Before.Total,
		AvailableBefore: m.Before.Available,
		ReservedBefore:  m.Before.Reserved,
		TotalAfter:      m.After.Total,
		AvailableAfter:  m.After.Available,
		ReservedAfter:   m.After.Reserved,
		ReferenceType:   nullableStringPtr(m.ReferenceType),
		ReferenceID:     nullableStringPtr(m.ReferenceID),
		ActorID:         nullableStringPtr(m.ActorID),
		Notes:           nullableString(m.Notes),
		CreatedAt:       util.FormatTimestamp(m.CreatedAt),
	}

	_, err := sqlx.NamedExecContext(ctx, execer(r.db, tx), `
		INSERT INTO stock_movements (
			id, inventory_item_id, movement_type, quantity,
			total_before, available_before, reserved_before,
			total_after, available_after, reserved_after,
			reference_type, reference_id, actor_id, notes, created_at
		) VALUES (
			:id, :inventory_item_id, :movement_type, :quantity,
			:total_before, :available_before, :reserved_before,
			:total_after, :available_after, :reserved_after,
			:reference_type, :reference_id, :actor_id, :notes, :created_at
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting stock movement: %w", err)
	}
	return nil
}

// ListMovements retrieves stock movements, newest first.
func (r *InventoryRepository) ListMovements(ctx context.Context, filter models.MovementFilter, page models.Pagination) (*models.MovementList, error) {
	var w where
	if filter.InventoryItemID != "" {
		w.add("inventory_item_id = ?", filter.InventoryItemID)
	}
	if filter.Type != "" {
		w.add("movement_type = ?", string(filter.Type))
	}
	if filter.ReferenceType != "" {
		w.add("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		w.add("reference_id = ?", filter.ReferenceID)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM stock_movements "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("counting stock movements: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM stock_movements %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, w.String())
	var rows []movementRow
	if err := r.db.SelectContext(ctx, &rows, query, append(w.args, page.Limit(), page.Offset())...); err != nil {
		return nil, fmt.Errorf("listing stock movements: %w", err)
	}

	movements := make([]*models.StockMovement, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}

	list := &models.MovementList{Movements: movements, Total: total}
	list.Page, list.TotalPages = pageOf(page, total)
	return list, nil
}

// MovementTotals sums movement quantities per type for one reference and
// item. Used to audit that each reservation is settled exactly once.
func (r *InventoryRepository) MovementTotals(ctx context.Context, ref models.Reference, itemID string) (map[models.MovementType]int, error) {
	var rows []struct {
		Type  string `db:"movement_type"`
		Total int    `db:"total"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT movement_type, SUM(quantity) AS total FROM stock_movements
		WHERE reference_type = ? AND reference_id = ? AND inventory_item_id = ?
		GROUP BY movement_type`, ref.Type, ref.ID, itemID)
	if err != nil {
		return nil, fmt.Errorf("summing stock movements: %w", err)
	}

	totals := make(map[models.MovementType]int, len(rows))
	for _, row := range rows {
		totals[models.MovementType(row.Type)] = row.Total
	}
	return totals, nil
}
