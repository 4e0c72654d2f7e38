package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

// ProcurementRepository handles procurement logs.
type ProcurementRepository struct {
	db        *sqlx.DB
	inventory *InventoryRepository
}

// NewProcurementRepository creates a new procurement repository.
func NewProcurementRepository(db *sqlx.DB) *ProcurementRepository {
	return &ProcurementRepository{db: db, inventory: NewInventoryRepository(db)}
}

type procurementRow struct {
	ID                string          `db:"id"`
	PurchaseRequestID sql.NullString  `db:"purchase_request_id"`
	InventoryItemID   string          `db:"inventory_item_id"`
	Quantity          int             `db:"quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	SupplierName      string          `db:"supplier_name"`
	SupplierContact   sql.NullString  `db:"supplier_contact"`
	InvoiceNumber     sql.NullString  `db:"invoice_number"`
	PurchaseDate      string          `db:"purchase_date"`
	DeliveryDate      sql.NullString  `db:"delivery_date"`
	LoggedBy          string          `db:"logged_by"`
	Notes             sql.NullString  `db:"notes"`
	CreatedAt         string          `db:"created_at"`
}

func (r procurementRow) toModel() (*models.ProcurementLog, error) {
	log := &models.ProcurementLog{
		ID:                r.ID,
		PurchaseRequestID: stringPtr(r.PurchaseRequestID),
		InventoryItemID:   r.InventoryItemID,
		Quantity:          r.Quantity,
		UnitPrice:         r.UnitPrice,
		TotalAmount:       r.TotalAmount,
		SupplierName:      r.SupplierName,
		SupplierContact:   stringPtr(r.SupplierContact),
		InvoiceNumber:     stringPtr(r.InvoiceNumber),
		LoggedBy:          r.LoggedBy,
		Notes:             stringPtr(r.Notes),
	}

	var err error
	if log.PurchaseDate, err = util.ParseDate(r.PurchaseDate); err != nil {
		return nil, fmt.Errorf("parsing purchase date %q: %w", r.PurchaseDate, err)
	}
	if log.DeliveryDate, err = datePtr(r.DeliveryDate); err != nil {
		return nil, err
	}
	if log.CreatedAt, err = timestamp(r.CreatedAt); err != nil {
		return nil, err
	}
	return log, nil
}

// Create inserts a procurement log.
func (r *ProcurementRepository) Create(ctx context.Context, tx *sqlx.Tx, log *models.ProcurementLog) error {
	log.CreatedAt = time.Now().UTC()

	row := procurementRow{
		ID:                log.ID,
		PurchaseRequestID: nullableStringPtr(log.PurchaseRequestID),
		InventoryItemID:   log.InventoryItemID,
		Quantity:          log.Quantity,
		UnitPrice:         log.UnitPrice,
		TotalAmount:       log.TotalAmount,
		SupplierName:      log.SupplierName,
		SupplierContact:   nullableStringPtr(log.SupplierContact),
		InvoiceNumber:     nullableStringPtr(log.InvoiceNumber),
		PurchaseDate:      util.FormatDate(log.PurchaseDate),
		DeliveryDate:      nullableDate(log.DeliveryDate),
		LoggedBy:          log.LoggedBy,
		Notes:             nullableStringPtr(log.Notes),
		CreatedAt:         util.FormatTimestamp(log.CreatedAt),
	}

	_, err := sqlx.NamedExecContext(ctx, execer(r.db, tx), `
		INSERT INTO procurement_logs (
			id, purchase_request_id, inventory_item_id, quantity, unit_price, total_amount,
			supplier_name, supplier_contact, invoice_number, purchase_date, delivery_date,
			logged_by, notes, created_at
		) VALUES (
			:id, :purchase_request_id, :inventory_item_id, :quantity, :unit_price, :total_amount,
			:supplier_name, :supplier_contact, :invoice_number, :purchase_date, :delivery_date,
			:logged_by, :notes, :created_at
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting procurement log: %w", err)
	}
	return nil
}

func (r *ProcurementRepository) withItems(ctx context.Context, rows []procurementRow) ([]*models.ProcurementLog, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.InventoryItemID)
	}
	items, err := r.inventory.GetMany(ctx, nil, ids)
	if err != nil {
		return nil, err
	}

	logs := make([]*models.ProcurementLog, 0, len(rows))
	for _, row := range rows {
		log, err := row.toModel()
		if err != nil {
			return nil, err
		}
		log.Item = items[log.InventoryItemID]
		logs = append(logs, log)
	}
	return logs, nil
}

func procurementWhere(filter models.ProcurementFilter) *where {
	w := &where{}
	if filter.InventoryItemID != "" {
		w.add("inventory_item_id = ?", filter.InventoryItemID)
	}
	if filter.PurchaseRequestID != "" {
		w.add("purchase_request_id = ?", filter.PurchaseRequestID)
	}
	if filter.Supplier != "" {
		w.add(`supplier_name LIKE ? ESCAPE '\'`, likePattern(filter.Supplier))
	}
	if filter.LoggedBy != "" {
		w.add("logged_by = ?", filter.LoggedBy)
	}
	w.dateRange("purchase_date", filter.Range)
	return w
}

// History retrieves procurement logs, latest purchase date first.
func (r *ProcurementRepository) History(ctx context.Context, filter models.ProcurementFilter, page models.Pagination) (*models.ProcurementLogList, error) {
	w := procurementWhere(filter)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM procurement_logs "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("counting procurement logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT * FROM procurement_logs %s
		ORDER BY purchase_date DESC, created_at DESC
		LIMIT ? OFFSET ?`, w.String())
	var rows []procurementRow
	if err := r.db.SelectContext(ctx, &rows, query, append(w.args, page.Limit(), page.Offset())...); err != nil {
		return nil, fmt.Errorf("listing procurement logs: %w", err)
	}

	logs, err := r.withItems(ctx, rows)
	if err != nil {
		return nil, err
	}

	list := &models.ProcurementLogList{Logs: logs, Total: total}
	list.Page, list.TotalPages = pageOf(page, total)
	return list, nil
}

// ByRequest returns every log linked to a purchase request, oldest first.
func (r *ProcurementRepository) ByRequest(ctx context.Context, purchaseRequestID string) ([]*models.ProcurementLog, error) {
	var rows []procurementRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM procurement_logs WHERE purchase_request_id = ?
		ORDER BY created_at`, purchaseRequestID); err != nil {
		return nil, fmt.Errorf("listing procurement logs for request: %w", err)
	}
	return r.withItems(ctx, rows)
}

// Recent returns the most recently logged procurements.
func (r *ProcurementRepository) Recent(ctx context.Context, limit int) ([]*models.ProcurementLog, error) {
	var rows []procurementRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM procurement_logs ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("listing recent procurement logs: %w", err)
	}
	return r.withItems(ctx, rows)
}

// QuantitiesForRequest sums logged quantities per inventory item for one
// purchase request.
func (r *ProcurementRepository) QuantitiesForRequest(ctx context.Context, tx *sqlx.Tx, purchaseRequestID string) (map[string]int, error) {
	var rows []struct {
		InventoryItemID string `db:"inventory_item_id"`
		Quantity        int    `db:"quantity"`
	}
	err := sqlx.SelectContext(ctx, execer(r.db, tx), &rows, `
		SELECT inventory_item_id, SUM(quantity) AS quantity
		FROM procurement_logs
		WHERE purchase_request_id = ?
		GROUP BY inventory_item_id`, purchaseRequestID)
	if err != nil {
		return nil, fmt.Errorf("summing procured quantities: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.InventoryItemID] = row.Quantity
	}
	return out, nil
}

// Statistics aggregates logs over a purchase date range. Amounts are summed
// in Go to keep decimal precision.
func (r *ProcurementRepository) Statistics(ctx context.Context, dates models.DateRange) (*models.ProcurementStatistics, error) {
	w := procurementWhere(models.ProcurementFilter{Range: dates})

	var counts struct {
		Total           int `db:"total"`
		Items           int `db:"items"`
		UniqueItems     int `db:"unique_items"`
		UniqueSuppliers int `db:"unique_suppliers"`
		Linked          int `db:"linked"`
	}
	err := r.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(quantity), 0) AS items,
			COUNT(DISTINCT inventory_item_id) AS unique_items,
			COUNT(DISTINCT supplier_name) AS unique_suppliers,
			COUNT(purchase_request_id) AS linked
		FROM procurement_logs `+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("computing procurement statistics: %w", err)
	}

	var amounts []decimal.Decimal
	if err := r.db.SelectContext(ctx, &amounts, "SELECT total_amount FROM procurement_logs "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("summing procurement amounts: %w", err)
	}

	stats := &models.ProcurementStatistics{
		TotalProcurements:       counts.Total,
		TotalAmount:             decimal.Zero,
		TotalItemsProcured:      counts.Items,
		UniqueItems:             counts.UniqueItems,
		UniqueSuppliers:         counts.UniqueSuppliers,
		LinkedToRequests:        counts.Linked,
		AverageProcurementValue: decimal.Zero,
	}
	for _, a := range amounts {
		stats.TotalAmount = stats.TotalAmount.Add(a)
	}
	if counts.Total > 0 {
		stats.AverageProcurementValue = stats.TotalAmount.Div(decimal.NewFromInt(int64(counts.Total))).Round(2)
	}
	return stats, nil
}
