package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

// RequisitionRepository handles requisitions, their lines and status logs.
type RequisitionRepository struct {
	db        *sqlx.DB
	inventory *InventoryRepository
}

// NewRequisitionRepository creates a new requisition repository.
func NewRequisitionRepository(db *sqlx.DB) *RequisitionRepository {
	return &RequisitionRepository{db: db, inventory: NewInventoryRepository(db)}
}

type requisitionRow struct {
	ID               string         `db:"id"`
	RequesterID      string         `db:"requester_id"`
	Department       string         `db:"department"`
	Branch           string         `db:"branch"`
	RequestDate      string         `db:"request_date"`
	Status           string         `db:"status"`
	CollectionStatus string         `db:"collection_status"`
	ApprovedBy       sql.NullString `db:"approved_by"`
	ApprovalDate     sql.NullString `db:"approval_date"`
	RejectionReason  sql.NullString `db:"rejection_reason"`
	CollectedBy      sql.NullString `db:"collected_by"`
	CollectionDate   sql.NullString `db:"collection_date"`
	Notes            sql.NullString `db:"notes"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r requisitionRow) toModel() (*models.Requisition, error) {
	req := &models.Requisition{
		ID:               r.ID,
		RequesterID:      r.RequesterID,
		Department:       r.Department,
		Branch:           r.Branch,
		Status:           models.RequisitionStatus(r.Status),
		CollectionStatus: models.CollectionStatus(r.CollectionStatus),
		ApprovedBy:       stringPtr(r.ApprovedBy),
		RejectionReason:  stringPtr(r.RejectionReason),
		CollectedBy:      stringPtr(r.CollectedBy),
		Notes:            stringPtr(r.Notes),
	}

	var err error
	if req.RequestDate, err = timestamp(r.RequestDate); err != nil {
		return nil, err
	}
	if req.ApprovalDate, err = timestampPtr(r.ApprovalDate); err != nil {
		return nil, err
	}
	if req.CollectionDate, err = timestampPtr(r.CollectionDate); err != nil {
		return nil, err
	}
	if req.CreatedAt, err = timestamp(r.CreatedAt); err != nil {
		return nil, err
	}
	if req.UpdatedAt, err = timestamp(r.UpdatedAt); err != nil {
		return nil, err
	}
	return req, nil
}

func fromRequisition(req *models.Requisition) requisitionRow {
	return requisitionRow{
		ID:               req.ID,
		RequesterID:      req.RequesterID,
		Department:       req.Department,
		Branch:           req.Branch,
		RequestDate:      util.FormatTimestamp(req.RequestDate),
		Status:           string(req.Status),
		CollectionStatus: string(req.CollectionStatus),
		ApprovedBy:       nullableStringPtr(req.ApprovedBy),
		ApprovalDate:     nullableTimestamp(req.ApprovalDate),
		RejectionReason:  nullableStringPtr(req.RejectionReason),
		CollectedBy:      nullableStringPtr(req.CollectedBy),
		CollectionDate:   nullableTimestamp(req.CollectionDate),
		Notes:            nullableStringPtr(req.Notes),
		CreatedAt:        util.FormatTimestamp(req.CreatedAt),
		UpdatedAt:        util.FormatTimestamp(req.UpdatedAt),
	}
}

type requisitionItemRow struct {
	ID              string         `db:"id"`
	RequisitionID   string         `db:"requisition_id"`
	InventoryItemID string         `db:"inventory_item_id"`
	Quantity        int            `db:"quantity"`
	Purpose         sql.NullString `db:"purpose"`
	CreatedAt       string         `db:"created_at"`
}

// Create inserts a requisition header.
func (r *RequisitionRepository) Create(ctx context.Context, tx *sqlx.Tx, req *models.Requisition) error {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.RequestDate.IsZero() {
		req.RequestDate = now
	}

	_, err := sqlx.NamedExecContext(ctx, execer(r.db, tx), `
		INSERT INTO requisitions (
			id, requester_id, department, branch, request_date, status, collection_status,
			approved_by, approval_date, rejection_reason, collected_by, collection_date,
			notes, created_at, updated_at
		) VALUES (
			:id, :requester_id, :department, :branch, :request_date, :status, :collection_status,
			:approved_by, :approval_date, :rejection_reason, :collected_by, :collection_date,
			:notes, :created_at, :updated_at
		)`, fromRequisition(req))
	if err != nil {
		return fmt.Errorf("inserting requisition: %w", err)
	}
	return nil
}

// AddItem inserts one requisition line.
func (r *RequisitionRepository) AddItem(ctx context.Context, tx *sqlx.Tx, item *models.RequisitionItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := execer(r.db, tx).ExecContext(ctx, `
		INSERT INTO requisition_items (id, requisition_id, inventory_item_id, quantity, purpose, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.RequisitionID,
		item.InventoryItemID,
		item.Quantity,
		nullableString(item.Purpose),
		util.FormatTimestamp(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting requisition item: %w", err)
	}
	return nil
}

// Get retrieves a requisition with its lines and their inventory items.
func (r *RequisitionRepository) Get(ctx context.Context, tx *sqlx.Tx, id string) (*models.Requisition, error) {
	var row requisitionRow
	err := sqlx.GetContext(ctx, execer(r.db, tx), &row, `SELECT * FROM requisitions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("requisition", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting requisition: %w", err)
	}

	req, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, tx, []*models.Requisition{req}); err != nil {
		return nil, err
	}
	return req, nil
}

// loadItems attaches lines and inventory items to the given requisitions
// with one query per table.
func (r *RequisitionRepository) loadItems(ctx context.Context, tx *sqlx.Tx, reqs []*models.Requisition) error {
	if len(reqs) == 0 {
		return nil
	}

	byID := make(map[string]*models.Requisition, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		byID[req.ID] = req
		ids = append(ids, req.ID)
	}

	query, args, err := sqlx.In(`
		SELECT * FROM requisition_items WHERE requisition_id IN (?)
		ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("building requisition item query: %w", err)
	}

	q := execer(r.db, tx)
	var rows []requisitionItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading requisition items: %w", err)
	}

	itemIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		itemIDs = append(itemIDs, row.InventoryItemID)
	}
	inventory, err := r.inventory.GetMany(ctx, tx, itemIDs)
	if err != nil {
		return err
	}

	for _, row := range rows {
		created, err := timestamp(row.CreatedAt)
		if err != nil {
			return err
		}
		line := &models.RequisitionItem{
			ID:              row.ID,
			RequisitionID:   row.RequisitionID,
			InventoryItemID: row.InventoryItemID,
			Quantity:        row.Quantity,
			Purpose:         row.Purpose.String,
			CreatedAt:       created,
			Item:            inventory[row.InventoryItemID],
		}
		req := byID[row.RequisitionID]
		req.Items = append(req.Items, line)
	}
	return nil
}

// Update writes the mutable state of a requisition: statuses and the
// approval, rejection and collection stamps.
func (r *RequisitionRepository) Update(ctx context.Context, tx *sqlx.Tx, req *models.Requisition) error {
	req.UpdatedAt = time.Now().UTC()

	result, err := sqlx.NamedExecContext(ctx, execer(r.db, tx), `
		UPDATE requisitions SET
			status = :status,
			collection_status = :collection_status,
			approved_by = :approved_by,
			approval_date = :approval_date,
			rejection_reason = :rejection_reason,
			collected_by = :collected_by,
			collection_date = :collection_date,
			updated_at = :updated_at
		WHERE id = :id`, fromRequisition(req))
	if err != nil {
		return fmt.Errorf("updating requisition: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("requisition", req.ID)
	}
	return nil
}

// List retrieves requisitions, latest first, with their lines.
func (r *RequisitionRepository) List(ctx context.Context, filter models.RequisitionFilter, page models.Pagination) (*models.RequisitionList, error) {
	var w where
	if filter.RequesterID != "" {
		w.add("requester_id = ?", filter.RequesterID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if filter.CollectionStatus != "" {
		w.add("collection_status = ?", string(filter.CollectionStatus))
	}
	if filter.Department != "" {
		w.add("department = ?", filter.Department)
	}
	if filter.Branch != "" {
		w.add("branch = ?", filter.Branch)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requisitions "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("counting requisitions: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM requisitions %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, w.String())
	var rows []requisitionRow
	if err := r.db.SelectContext(ctx, &rows, query, append(w.args, page.Limit(), page.Offset())...); err != nil {
		return nil, fmt.Errorf("listing requisitions: %w", err)
	}

	reqs := make([]*models.Requisition, 0, len(rows))
	for _, row := range rows {
		req, err := row.toModel()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	if err := r.loadItems(ctx, nil, reqs); err != nil {
		return nil, err
	}

	list := &models.RequisitionList{Requisitions: reqs, Total: total}
	list.Page, list.TotalPages = pageOf(page, total)
	return list, nil
}

// AppendLog records one status or collection transition.
func (r *RequisitionRepository) AppendLog(ctx context.Context, tx *sqlx.Tx, log *models.StatusLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := execer(r.db, tx).ExecContext(ctx, `
		INSERT INTO requisition_status_logs (id, requisition_id, changed_by, kind, old_value, new_value, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.RequisitionID,
		log.ChangedBy,
		string(log.Kind),
		nullableStringPtr(log.OldValue),
		log.NewValue,
		nullableString(log.Comments),
		util.FormatTimestamp(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting status log: %w", err)
	}
	return nil
}

// History returns a requisition's status logs, oldest first.
func (r *RequisitionRepository) History(ctx context.Context, requisitionID string) ([]*models.StatusLog, error) {
	var rows []struct {
		ID            string         `db:"id"`
		RequisitionID string         `db:"requisition_id"`
		ChangedBy     string         `db:"changed_by"`
		Kind          string         `db:"kind"`
		OldValue      sql.NullString `db:"old_value"`
		NewValue      string         `db:"new_value"`
		Comments      sql.NullString `db:"comments"`
		CreatedAt     string         `db:"created_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM requisition_status_logs
		WHERE requisition_id = ?
		ORDER BY created_at, rowid`, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("listing status logs: %w", err)
	}

	logs := make([]*models.StatusLog, 0, len(rows))
	for _, row := range rows {
		created, err := timestamp(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &models.StatusLog{
			ID:            row.ID,
			RequisitionID: row.RequisitionID,
			ChangedBy:     row.ChangedBy,
			Kind:          models.StatusLogKind(row.Kind),
			OldValue:      stringPtr(row.OldValue),
			NewValue:      row.NewValue,
			Comments:      row.Comments.String,
			CreatedAt:     created,
		})
	}
	return logs, nil
}

// Statistics counts requisitions by state. The date range filters on
// request_date and only applies when both ends are set.
func (r *RequisitionRepository) Statistics(ctx context.Context, filter models.RequisitionStatsFilter) (*models.RequisitionStatistics, error) {
	var w where
	if filter.RequesterID != "" {
		w.add("requester_id = ?", filter.RequesterID)
	}
	if filter.Department != "" {
		w.add("department = ?", filter.Department)
	}
	if filter.Range.Complete() {
		w.dateRange("request_date", filter.Range)
	}

	var stats struct {
		Total              int `db:"total"`
		Pending            int `db:"pending"`
		Approved           int `db:"approved"`
		Rejected           int `db:"rejected"`
		Cancelled          int `db:"cancelled"`
		Collected          int `db:"collected"`
		ReadyForCollection int `db:"ready_for_collection"`
	}
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(status = 'pending'), 0) AS pending,
			COALESCE(SUM(status = 'approved'), 0) AS approved,
			COALESCE(SUM(status = 'rejected'), 0) AS rejected,
			COALESCE(SUM(status = 'cancelled'), 0) AS cancelled,
			COALESCE(SUM(collection_status = 'collected'), 0) AS collected,
			COALESCE(SUM(status = 'approved' AND collection_status = 'ready'), 0) AS ready_for_collection
		FROM requisitions `+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("computing requisition statistics: %w", err)
	}

	return &models.RequisitionStatistics{
		Total:              stats.Total,
		Pending:            stats.Pending,
		Approved:           stats.Approved,
		Rejected:           stats.Rejected,
		Cancelled:          stats.Cancelled,
		Collected:          stats.Collected,
		ReadyForCollection: stats.ReadyForCollection,
	}, nil
}
