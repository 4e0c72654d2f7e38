package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

// PurchaseRequestRepository handles purchase requests and their lines.
type PurchaseRequestRepository struct {
	db *sqlx.DB
}

// NewPurchaseRequestRepository creates a new purchase request repository.
func NewPurchaseRequestRepository(db *sqlx.DB) *PurchaseRequestRepository {
	return &PurchaseRequestRepository{db: db}
}

type purchaseRequestRow struct {
	ID               string         `db:"id"`
	RequestCode      string         `db:"request_code"`
	RequestedBy      string         `db:"requested_by"`
	Branch           string         `db:"branch"`
	Priority         string         `db:"priority"`
	Justification    sql.NullString `db:"justification"`
	TotalAmount      string         `db:"total_amount"`
	RequiredDate     sql.NullString `db:"required_date"`
	Status           string         `db:"status"`
	AdminStatus      string         `db:"admin_status"`
	FinanceStatus    string         `db:"finance_status"`
	ReviewedBy       sql.NullString `db:"reviewed_by"`
	ReviewedAt       sql.NullString `db:"reviewed_at"`
	ReviewComments   sql.NullString `db:"review_comments"`
	ApprovedBy       sql.NullString `db:"approved_by"`
	ApprovedAt       sql.NullString `db:"approved_at"`
	ApprovalComments sql.NullString `db:"approval_comments"`
	RejectedBy       sql.NullString `db:"rejected_by"`
	RejectedAt       sql.NullString `db:"rejected_at"`
	RejectionReason  sql.NullString `db:"rejection_reason"`
	CompletedBy      sql.NullString `db:"completed_by"`
	CompletedAt      sql.NullString `db:"completed_at"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r purchaseRequestRow) toModel() (*models.PurchaseRequest, error) {
	total, err := decimal.NewFromString(r.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("parsing total of purchase request %s: %w", r.ID, err)
	}

	pr := &models.PurchaseRequest{
		ID:               r.ID,
		RequestCode:      r.RequestCode,
		RequestedBy:      r.RequestedBy,
		Branch:           r.Branch,
		Priority:         models.Priority(r.Priority),
		Justification:    r.Justification.String,
		TotalAmount:      total,
		Status:           models.PurchaseRequestStatus(r.Status),
		AdminStatus:      models.AdminStatus(r.AdminStatus),
		FinanceStatus:    models.FinanceStatus(r.FinanceStatus),
		ReviewedBy:       stringPtr(r.ReviewedBy),
		ReviewComments:   stringPtr(r.ReviewComments),
		ApprovedBy:       stringPtr(r.ApprovedBy),
		ApprovalComments: stringPtr(r.ApprovalComments),
		RejectedBy:       stringPtr(r.RejectedBy),
		RejectionReason:  stringPtr(r.RejectionReason),
		CompletedBy:      stringPtr(r.CompletedBy),
	}

	if pr.RequiredDate, err = datePtr(r.RequiredDate); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&pr.ReviewedAt, r.ReviewedAt},
		{&pr.ApprovedAt, r.ApprovedAt},
		{&pr.RejectedAt, r.RejectedAt},
		{&pr.CompletedAt, r.CompletedAt},
	} {
		if *f.dst, err = timestampPtr(f.src); err != nil {
			return nil, err
		}
	}
	if pr.CreatedAt, err = timestamp(r.CreatedAt); err != nil {
		return nil, err
	}
	if pr.UpdatedAt, err = timestamp(r.UpdatedAt); err != nil {
		return nil, err
	}
	return pr, nil
}

func fromPurchaseRequest(pr *models.PurchaseRequest) purchaseRequestRow {
	return purchaseRequestRow{
		ID:               pr.ID,
		RequestCode:      pr.RequestCode,
		RequestedBy:      pr.RequestedBy,
		Branch:           pr.Branch,
		Priority:         string(pr.Priority),
		Justification:    nullableString(pr.Justification),
		TotalAmount:      pr.TotalAmount.String(),
		RequiredDate:     nullableDate(pr.RequiredDate),
		Status:           string(pr.Status),
		AdminStatus:      string(pr.AdminStatus),
		FinanceStatus:    string(pr.FinanceStatus),
		ReviewedBy:       nullableStringPtr(pr.ReviewedBy),
		ReviewedAt:       nullableTimestamp(pr.ReviewedAt),
		ReviewComments:   nullableStringPtr(pr.ReviewComments),
		ApprovedBy:       nullableStringPtr(pr.ApprovedBy),
		ApprovedAt:       nullableTimestamp(pr.ApprovedAt),
		ApprovalComments: nullableStringPtr(pr.ApprovalComments),
		RejectedBy:       nullableStringPtr(pr.RejectedBy),
		RejectedAt:       nullableTimestamp(pr.RejectedAt),
		RejectionReason:  nullableStringPtr(pr.RejectionReason),
		CompletedBy:      nullableStringPtr(pr.CompletedBy),
		CompletedAt:      nullableTimestamp(pr.CompletedAt),
		CreatedAt:        util.FormatTimestamp(pr.CreatedAt),
		UpdatedAt:        util.FormatTimestamp(pr.UpdatedAt),
	}
}

type purchaseRequestItemRow struct {
	ID                string          `db:"id"`
	PurchaseRequestID string          `db:"purchase_request_id"`
	InventoryItemID   sql.NullString  `db:"inventory_item_id"`
	ItemName          string          `db:"item_name"`
	ItemCategory      sql.NullString  `db:"item_category"`
	ItemCode          sql.NullString  `db:"item_code"`
	Quantity          int             `db:"quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	Total             decimal.Decimal `db:"total"`
	Justification     sql.NullString  `db:"justification"`
}

// Create inserts a purchase request together with its lines.
func (r *PurchaseRequestRepository) Create(ctx context.Context, tx *sqlx.Tx, pr *models.PurchaseRequest) error {
	now := time.Now().UTC()
	pr.CreatedAt = now
	pr.UpdatedAt = now

	q := execer(r.db, tx)
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO purchase_requests (
			id, request_code, requested_by, branch, priority, justification, total_amount,
			required_date, status, admin_status, finance_status,
			reviewed_by, reviewed_at, review_comments,
			approved_by, approved_at, approval_comments,
			rejected_by, rejected_at, rejection_reason,
			completed_by, completed_at, created_at, updated_at
		) VALUES (
			:id, :request_code, :requested_by, :branch, :priority, :justification, :total_amount,
			:required_date, :status, :admin_status, :finance_status,
			:reviewed_by, :reviewed_at, :review_comments,
			:approved_by, :approved_at, :approval_comments,
			:rejected_by, :rejected_at, :rejection_reason,
			:completed_by, :completed_at, :created_at, :updated_at
		)`, fromPurchaseRequest(pr))
	if isUniqueViolation(err) {
		return apperr.New(apperr.ErrConflict, "purchase request code %s already exists", pr.RequestCode)
	}
	if err != nil {
		return fmt.Errorf("inserting purchase request: %w", err)
	}

	for _, item := range pr.Items {
		item.PurchaseRequestID = pr.ID
		row := purchaseRequestItemRow{
			ID:                item.ID,
			PurchaseRequestID: item.PurchaseRequestID,
			InventoryItemID:   nullableStringPtr(item.InventoryItemID),
			ItemName:          item.ItemName,
			ItemCategory:      nullableString(item.ItemCategory),
			ItemCode:          nullableString(item.ItemCode),
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			Total:             item.Total,
			Justification:     nullableString(item.Justification),
		}
		_, err := sqlx.NamedExecContext(ctx, q, `
			INSERT INTO purchase_request_items (
				id, purchase_request_id, inventory_item_id, item_name, item_category, item_code,
				quantity, unit_price, total, justification
			) VALUES (
				:id, :purchase_request_id, :inventory_item_id, :item_name, :item_category, :item_code,
				:quantity, :unit_price, :total, :justification
			)`, row)
		if err != nil {
			return fmt.Errorf("inserting purchase request item: %w", err)
		}
	}
	return nil
}

// Get retrieves a purchase request with its lines.
func (r *PurchaseRequestRepository) Get(ctx context.Context, tx *sqlx.Tx, id string) (*models.PurchaseRequest, error) {
	q := execer(r.db, tx)

	var row purchaseRequestRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT * FROM purchase_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("purchase request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting purchase request: %w", err)
	}

	pr, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if pr.Items, err = r.items(ctx, q, id); err != nil {
		return nil, err
	}
	return pr, nil
}

// GetByCode retrieves a purchase request by its PR code.
func (r *PurchaseRequestRepository) GetByCode(ctx context.Context, code string) (*models.PurchaseRequest, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT id FROM purchase_requests WHERE request_code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("purchase request", code)
	}
	if err != nil {
		return nil, fmt.Errorf("getting purchase request by code: %w", err)
	}
	return r.Get(ctx, nil, id)
}

func (r *PurchaseRequestRepository) items(ctx context.Context, q sqlx.QueryerContext, id string) ([]*models.PurchaseRequestItem, error) {
	var rows []purchaseRequestItemRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT * FROM purchase_request_items WHERE purchase_request_id = ? ORDER BY rowid`, id); err != nil {
		return nil, fmt.Errorf("loading purchase request items: %w", err)
	}

	items := make([]*models.PurchaseRequestItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, &models.PurchaseRequestItem{
			ID:                row.ID,
			PurchaseRequestID: row.PurchaseRequestID,
			InventoryItemID:   stringPtr(row.InventoryItemID),
			ItemName:          row.ItemName,
			ItemCategory:      row.ItemCategory.String,
			ItemCode:          row.ItemCode.String,
			Quantity:          row.Quantity,
			UnitPrice:         row.UnitPrice,
			Total:             row.Total,
			Justification:     row.Justification.String,
		})
	}
	return items, nil
}

// Update writes the stage columns and stamps of a purchase request.
func (r *PurchaseRequestRepository) Update(ctx context.Context, tx *sqlx.Tx, pr *models.PurchaseRequest) error {
	pr.UpdatedAt = time.Now().UTC()

	result, err := sqlx.NamedExecContext(ctx, execer(r.db, tx), `
		UPDATE purchase_requests SET
			status = :status,
			admin_status = :admin_status,
			finance_status = :finance_status,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			review_comments = :review_comments,
			approved_by = :approved_by,
			approved_at = :approved_at,
			approval_comments = :approval_comments,
			rejected_by = :rejected_by,
			rejected_at = :rejected_at,
			rejection_reason = :rejection_reason,
			completed_by = :completed_by,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id`, fromPurchaseRequest(pr))
	if err != nil {
		return fmt.Errorf("updating purchase request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("purchase request", pr.ID)
	}
	return nil
}

// LastCodeForYear returns the highest request code issued in year, or ""
// when none exists. Codes are zero padded, so the longest code sorts last.
func (r *PurchaseRequestRepository) LastCodeForYear(ctx context.Context, tx *sqlx.Tx, year int) (string, error) {
	var code string
	err := sqlx.GetContext(ctx, execer(r.db, tx), &code, `
		SELECT request_code FROM purchase_requests
		WHERE request_code LIKE ?
		ORDER BY LENGTH(request_code) DESC, request_code DESC
		LIMIT 1`, fmt.Sprintf("%s-%04d-%%", util.RequestCodePrefix, year))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last request code: %w", err)
	}
	return code, nil
}

// List retrieves purchase requests, latest first.
func (r *PurchaseRequestRepository) List(ctx context.Context, filter models.PurchaseRequestFilter, page models.Pagination) (*models.PurchaseRequestList, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if filter.AdminStatus != "" {
		w.add("admin_status = ?", string(filter.AdminStatus))
	}
	if filter.FinanceStatus != "" {
		w.add("finance_status = ?", string(filter.FinanceStatus))
	}
	if filter.Priority != "" {
		w.add("priority = ?", string(filter.Priority))
	}
	if filter.RequestedBy != "" {
		w.add("requested_by = ?", filter.RequestedBy)
	}
	if filter.Branch != "" {
		w.add("branch = ?", filter.Branch)
	}
	w.dateRange("created_at", filter.Range)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM purchase_requests "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("counting purchase requests: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM purchase_requests %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, w.String())
	var rows []purchaseRequestRow
	if err := r.db.SelectContext(ctx, &rows, query, append(w.args, page.Limit(), page.Offset())...); err != nil {
		return nil, fmt.Errorf("listing purchase requests: %w", err)
	}

	requests := make([]*models.PurchaseRequest, 0, len(rows))
	for _, row := range rows {
		pr, err := row.toModel()
		if err != nil {
			return nil, err
		}
		if pr.Items, err = r.items(ctx, r.db, pr.ID); err != nil {
			return nil, err
		}
		requests = append(requests, pr)
	}

	list := &models.PurchaseRequestList{Requests: requests, Total: total}
	list.Page, list.TotalPages = pageOf(page, total)
	return list, nil
}

// Statistics counts purchase requests by stage, optionally for one
// requester. The approved amount is summed in Go.
func (r *PurchaseRequestRepository) Statistics(ctx context.Context, requestedBy string) (*models.PurchaseRequestStatistics, error) {
	var w where
	if requestedBy != "" {
		w.add("requested_by = ?", requestedBy)
	}

	var counts struct {
		Total          int `db:"total"`
		Pending        int `db:"pending"`
		Approved       int `db:"approved"`
		Rejected       int `db:"rejected"`
		Cancelled      int `db:"cancelled"`
		Completed      int `db:"completed"`
		PendingReview  int `db:"pending_review"`
		PendingFinance int `db:"pending_finance"`
	}
	err := r.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(status = 'pending'), 0) AS pending,
			COALESCE(SUM(status = 'approved'), 0) AS approved,
			COALESCE(SUM(status = 'rejected'), 0) AS rejected,
			COALESCE(SUM(status = 'cancelled'), 0) AS cancelled,
			COALESCE(SUM(status = 'completed'), 0) AS completed,
			COALESCE(SUM(status = 'pending' AND admin_status = 'pending'), 0) AS pending_review,
			COALESCE(SUM(status = 'pending' AND admin_status = 'reviewed' AND finance_status = 'pending'), 0) AS pending_finance
		FROM purchase_requests `+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("computing purchase request statistics: %w", err)
	}

	w.add("status IN ('approved', 'completed')")
	var amounts []decimal.Decimal
	if err := r.db.SelectContext(ctx, &amounts, "SELECT total_amount FROM purchase_requests "+w.String(), w.args...); err != nil {
		return nil, fmt.Errorf("summing approved amounts: %w", err)
	}

	stats := &models.PurchaseRequestStatistics{
		Total:               counts.Total,
		Pending:             counts.Pending,
		Approved:            counts.Approved,
		Rejected:            counts.Rejected,
		Cancelled:           counts.Cancelled,
		Completed:           counts.Completed,
		PendingReview:       counts.PendingReview,
		PendingFinance:      counts.PendingFinance,
		TotalApprovedAmount: decimal.Zero,
	}
	for _, a := range amounts {
		stats.TotalApprovedAmount = stats.TotalApprovedAmount.Add(a)
	}
	return stats, nil
}
