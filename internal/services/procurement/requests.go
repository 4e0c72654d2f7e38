package procurement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/repository"
	"github.com/storekeeper/storekeeper/internal/util"
)

// Requests runs purchase requests through admin review and finance
// approval.
type Requests struct {
	db        *database.DB
	requests  *repository.PurchaseRequestRepository
	items     *repository.InventoryRepository
	publisher events.Publisher
	clock     util.Clock
	logger    *slog.Logger
}

// NewRequests creates a new purchase request service.
func NewRequests(db *database.DB, opts ...Option) *Requests {
	o := buildOptions(opts)
	return &Requests{
		db:        db,
		requests:  repository.NewPurchaseRequestRepository(db.DB),
		items:     repository.NewInventoryRepository(db.DB),
		publisher: o.publisher,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// ============================================================================
// CREATION
// ============================================================================

// Create raises a pending purchase request with the next code of the
// current year.
func (r *Requests) Create(ctx context.Context, actor models.Actor, input CreateRequestInput) (*models.PurchaseRequest, error) {
	if len(input.Items) == 0 {
		return nil, apperr.Invalid("a purchase request needs at least one item")
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, apperr.Invalid("unknown priority %q", input.Priority)
	}
	input.Branch = strings.TrimSpace(input.Branch)
	if input.Branch == "" {
		return nil, apperr.Invalid("branch is required")
	}

	var linked []string
	for i, line := range input.Items {
		if line.Quantity <= 0 {
			return nil, apperr.Invalid("line %d: quantity must be positive, got %d", i+1, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return nil, apperr.Invalid("line %d: unit price cannot be negative", i+1)
		}
		if line.InventoryItemID != "" {
			linked = append(linked, line.InventoryItemID)
		} else if strings.TrimSpace(line.ItemName) == "" {
			return nil, apperr.Invalid("line %d: item name is required for uncatalogued items", i+1)
		}
	}

	now := r.clock.Now()
	pr := &models.PurchaseRequest{
		ID:            util.NewID(),
		RequestedBy:   actor.ID,
		Branch:        input.Branch,
		Priority:      input.Priority,
		Justification: strings.TrimSpace(input.Justification),
		TotalAmount:   decimal.Zero,
		RequiredDate:  input.RequiredDate,
		Status:        models.PurchasePending,
		AdminStatus:   models.AdminPending,
		FinanceStatus: models.FinancePending,
	}

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		catalogue, err := r.items.GetMany(ctx, tx, linked)
		if err != nil {
			return err
		}

		for _, in := range input.Items {
			line := &models.PurchaseRequestItem{
				ID:            util.NewID(),
				ItemName:      strings.TrimSpace(in.ItemName),
				ItemCategory:  strings.TrimSpace(in.ItemCategory),
				ItemCode:      strings.TrimSpace(in.ItemCode),
				Quantity:      in.Quantity,
				UnitPrice:     in.UnitPrice,
				Justification: in.Justification,
			}
			if in.InventoryItemID != "" {
				item, ok := catalogue[in.InventoryItemID]
				if !ok {
					return apperr.NotFound("inventory item", in.InventoryItemID)
				}
				id := item.ID
				line.InventoryItemID = &id
				if line.ItemName == "" {
					line.ItemName = item.Name
				}
				if line.ItemCategory == "" {
					line.ItemCategory = item.Category
				}
				if line.ItemCode == "" {
					line.ItemCode = item.Code
				}
			}
			if in.Total != nil {
				line.Total = *in.Total
			} else {
				line.Total = in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
			}
			pr.Items = append(pr.Items, line)
			pr.TotalAmount = pr.TotalAmount.Add(line.Total)
		}

		last, err := r.requests.LastCodeForYear(ctx, tx, now.Year())
		if err != nil {
			return err
		}
		pr.RequestCode = util.NextRequestCode(now.Year(), last)

		return r.requests.Create(ctx, tx, pr)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("purchase request created",
		"purchase_request_id", pr.ID,
		"request_code", pr.RequestCode,
		"actor_id", actor.ID,
		"total_amount", pr.TotalAmount.String(),
	)
	r.notify(ctx, actor, pr)
	return pr, nil
}

// ============================================================================
// STAGES
// ============================================================================

// advance loads the request, lets check refuse the move, applies it and
// writes it back in one transaction.
func (r *Requests) advance(ctx context.Context, actor models.Actor, id string, check func(*models.PurchaseRequest) error, apply func(pr *models.PurchaseRequest, now time.Time)) (*models.PurchaseRequest, error) {
	var pr *models.PurchaseRequest
	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		if pr, err = r.requests.Get(ctx, tx, id); err != nil {
			return err
		}
		if err := check(pr); err != nil {
			return err
		}
		apply(pr, r.clock.Now())
		return r.requests.Update(ctx, tx, pr)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("purchase request updated",
		"purchase_request_id", pr.ID,
		"actor_id", actor.ID,
		"status", pr.Status,
		"admin_status", pr.AdminStatus,
		"finance_status", pr.FinanceStatus,
	)
	r.notify(ctx, actor, pr)
	return pr, nil
}

func (r *Requests) notify(ctx context.Context, actor models.Actor, pr *models.PurchaseRequest) {
	events.Notify(ctx, r.logger, r.publisher, events.New(events.PurchaseRequestUpdated, pr.ID, actor.ID, map[string]any{
		"request_code":   pr.RequestCode,
		"status":         string(pr.Status),
		"admin_status":   string(pr.AdminStatus),
		"finance_status": string(pr.FinanceStatus),
	}))
}

func allowed(ok bool, pr *models.PurchaseRequest, action string) error {
	if ok {
		return nil
	}
	return apperr.Transition("this purchase request cannot be %s", action).
		With("purchase_request_id", pr.ID).
		With("status", string(pr.Status)).
		With("admin_status", string(pr.AdminStatus)).
		With("finance_status", string(pr.FinanceStatus))
}

// Review records the admin decision. Approving passes the request on to
// finance; rejecting ends it.
func (r *Requests) Review(ctx context.Context, actor models.Actor, id string, approve bool, comments string) (*models.PurchaseRequest, error) {
	note := optional(comments)
	return r.advance(ctx, actor, id,
		func(pr *models.PurchaseRequest) error {
			return allowed(pr.CanBeReviewed(), pr, "reviewed")
		},
		func(pr *models.PurchaseRequest, now time.Time) {
			pr.ReviewedBy = &actor.ID
			pr.ReviewedAt = &now
			pr.ReviewComments = note
			if approve {
				pr.AdminStatus = models.AdminReviewed
				return
			}
			pr.AdminStatus = models.AdminRejected
			pr.Status = models.PurchaseRejected
			pr.RejectedBy = &actor.ID
			pr.RejectedAt = &now
			pr.RejectionReason = note
		})
}

// Approve records finance approval of a reviewed request.
func (r *Requests) Approve(ctx context.Context, actor models.Actor, id, comments string) (*models.PurchaseRequest, error) {
	note := optional(comments)
	return r.advance(ctx, actor, id,
		func(pr *models.PurchaseRequest) error {
			return allowed(pr.CanBeApproved(), pr, "approved")
		},
		func(pr *models.PurchaseRequest, now time.Time) {
			pr.Status = models.PurchaseApproved
			pr.FinanceStatus = models.FinanceApproved
			pr.ApprovedBy = &actor.ID
			pr.ApprovedAt = &now
			pr.ApprovalComments = note
		})
}

// Reject turns down any request that has not ended yet.
func (r *Requests) Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.PurchaseRequest, error) {
	note := optional(reason)
	if note == nil {
		return nil, apperr.Invalid("a rejection reason is required")
	}
	return r.advance(ctx, actor, id,
		func(pr *models.PurchaseRequest) error {
			return allowed(pr.CanBeRejected(), pr, "rejected")
		},
		func(pr *models.PurchaseRequest, now time.Time) {
			pr.Status = models.PurchaseRejected
			pr.FinanceStatus = models.FinanceRejected
			pr.RejectedBy = &actor.ID
			pr.RejectedAt = &now
			pr.RejectionReason = note
		})
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (r *Requests) Cancel(ctx context.Context, actor models.Actor, id string) (*models.PurchaseRequest, error) {
	return r.advance(ctx, actor, id,
		func(pr *models.PurchaseRequest) error {
			if pr.RequestedBy != actor.ID {
				return apperr.New(apperr.ErrUnauthorized, "only the requester can cancel this purchase request").
					With("purchase_request_id", pr.ID).With("actor_id", actor.ID)
			}
			return allowed(pr.CanBeCancelled(), pr, "cancelled")
		},
		func(pr *models.PurchaseRequest, _ time.Time) {
			pr.Status = models.PurchaseCancelled
		})
}

// ============================================================================
// QUERIES
// ============================================================================

// Get retrieves a purchase request with its lines.
func (r *Requests) Get(ctx context.Context, id string) (*models.PurchaseRequest, error) {
	return r.requests.Get(ctx, nil, id)
}

// GetByCode retrieves a purchase request by its PR code.
func (r *Requests) GetByCode(ctx context.Context, code string) (*models.PurchaseRequest, error) {
	return r.requests.GetByCode(ctx, code)
}

// List retrieves purchase requests, latest first.
func (r *Requests) List(ctx context.Context, filter models.PurchaseRequestFilter, page models.Pagination) (*models.PurchaseRequestList, error) {
	return r.requests.List(ctx, filter, page)
}

// PendingReview lists requests waiting for the admin stage.
func (r *Requests) PendingReview(ctx context.Context, page models.Pagination) (*models.PurchaseRequestList, error) {
	return r.requests.List(ctx, models.PurchaseRequestFilter{
		Status:      models.PurchasePending,
		AdminStatus: models.AdminPending,
	}, page)
}

// PendingFinance lists reviewed requests waiting for finance.
func (r *Requests) PendingFinance(ctx context.Context, page models.Pagination) (*models.PurchaseRequestList, error) {
	return r.requests.List(ctx, models.PurchaseRequestFilter{
		Status:        models.PurchasePending,
		AdminStatus:   models.AdminReviewed,
		FinanceStatus: models.FinancePending,
	}, page)
}

// Statistics counts purchase requests by stage, optionally for one
// requester.
func (r *Requests) Statistics(ctx context.Context, requestedBy string) (*models.PurchaseRequestStatistics, error) {
	return r.requests.Statistics(ctx, requestedBy)
}
