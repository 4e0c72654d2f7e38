// Package requisitions drives staff requisitions through approval and
// collection, keeping their reserved stock in step with each transition.
package requisitions

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/repository"
	"github.com/storekeeper/storekeeper/internal/services/inventory"
	"github.com/storekeeper/storekeeper/internal/util"
)

// DefaultCancelOverrideRoles may cancel requisitions raised by others.
var DefaultCancelOverrideRoles = []string{string(models.RoleSuperAdmin)}

// Service provides requisition operations.
type Service struct {
	db            *database.DB
	requisitions  *repository.RequisitionRepository
	items         *repository.InventoryRepository
	ledger        *inventory.Ledger
	publisher     events.Publisher
	clock         util.Clock
	logger        *slog.Logger
	overrideRoles []string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where transition events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the clock used for approval and collection stamps.
func WithClock(c util.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCancelOverrideRoles sets the roles allowed to cancel requisitions they
// did not raise.
func WithCancelOverrideRoles(roles []string) Option {
	return func(s *Service) { s.overrideRoles = roles }
}

// NewService creates a new requisition service on top of ledger.
func NewService(db *database.DB, ledger *inventory.Ledger, opts ...Option) *Service {
	s := &Service{
		db:            db,
		requisitions:  repository.NewRequisitionRepository(db.DB),
		items:         repository.NewInventoryRepository(db.DB),
		ledger:        ledger,
		publisher:     events.Nop{},
		clock:         util.SystemClock{},
		logger:        slog.Default(),
		overrideRoles: DefaultCancelOverrideRoles,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// CREATION
// ============================================================================

// Create raises a pending requisition and reserves every line. Either all
// lines are reserved or nothing is written.
func (s *Service) Create(ctx context.Context, actor models.Actor, input CreateInput) (*models.Requisition, error) {
	if len(input.Items) == 0 {
		return nil, apperr.New(apperr.ErrEmptyRequisition, "a requisition needs at least one item")
	}
	input.Department = strings.TrimSpace(input.Department)
	input.Branch = strings.TrimSpace(input.Branch)
	if input.Department == "" || input.Branch == "" {
		return nil, apperr.Invalid("department and branch are required")
	}
	ids := make([]string, 0, len(input.Items))
	lines := make([]models.StockLine, 0, len(input.Items))
	for i, line := range input.Items {
		if line.Quantity <= 0 {
			return nil, apperr.Invalid("line %d: quantity must be positive, got %d", i+1, line.Quantity).
				With("inventory_item_id", line.InventoryItemID)
		}
		ids = append(ids, line.InventoryItemID)
		lines = append(lines, models.StockLine{InventoryItemID: line.InventoryItemID, Quantity: line.Quantity})
	}
	wanted := models.RequestedTotals(lines)

	now := s.clock.Now()
	req := &models.Requisition{
		ID:               util.NewID(),
		RequesterID:      actor.ID,
		Department:       input.Department,
		Branch:           input.Branch,
		RequestDate:      now,
		Status:           models.RequisitionPending,
		CollectionStatus: models.CollectionPending,
	}
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		req.Notes = &notes
	}

	var created *models.Requisition
	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		stock, err := s.items.GetMany(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, line := range input.Items {
			item, ok := stock[line.InventoryItemID]
			if !ok {
				return apperr.NotFound("inventory item", line.InventoryItemID)
			}
			if !item.HasAvailable(wanted[item.ID]) {
				return inventory.InsufficientStock(item, wanted[item.ID])
			}
		}

		if err := s.requisitions.Create(ctx, tx, req); err != nil {
			return err
		}

		ref := models.Reference{Type: models.RefRequisition, ID: req.ID}
		for _, line := range input.Items {
			if err := s.requisitions.AddItem(ctx, tx, &models.RequisitionItem{
				ID:              util.NewID(),
				RequisitionID:   req.ID,
				InventoryItemID: line.InventoryItemID,
				Quantity:        line.Quantity,
				Purpose:         line.Purpose,
			}); err != nil {
				return err
			}
			if _, err := s.ledger.ReserveStock(ctx, tx, actor, line.InventoryItemID, line.Quantity, ref); err != nil {
				return err
			}
		}

		if err := s.appendLog(ctx, tx, req.ID, actor, models.LogKindStatus, nil, string(models.RequisitionPending), "Requisition created"); err != nil {
			return err
		}

		created, err = s.requisitions.Get(ctx, tx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("requisition created",
		"requisition_id", created.ID,
		"actor_id", actor.ID,
		"lines", len(created.Items),
		"quantity", created.TotalQuantity(),
	)
	events.Notify(ctx, s.logger, s.publisher, events.New(events.RequisitionCreated, created.ID, actor.ID, map[string]any{
		"department": created.Department,
		"branch":     created.Branch,
		"lines":      len(created.Items),
	}))
	return created, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// stockFunc is one of the ledger primitives applied to every line.
type stockFunc func(ctx context.Context, tx *sqlx.Tx, actor models.Actor, itemID string, qty int, ref models.Reference) (*models.InventoryItem, error)

// transition describes one edge of the requisition graph.
type transition struct {
	name     string
	verb     string
	event    string
	kind     models.StatusLogKind
	owner    bool
	allowed  func(*models.Requisition) bool
	stock    stockFunc
	apply    func(req *models.Requisition, actor models.Actor, now time.Time)
	comments string
}

func (t transition) value(req *models.Requisition) string {
	if t.kind == models.LogKindCollection {
		return string(req.CollectionStatus)
	}
	return string(req.Status)
}

// move loads the requisition, checks authorization and then the business
// rule, applies the stock primitive to every line, writes the new state and
// logs it, all in one transaction. The event is published after commit.
func (s *Service) move(ctx context.Context, actor models.Actor, id string, t transition) (*models.Requisition, error) {
	var (
		updated  *models.Requisition
		from, to string
	)
	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		req, err := s.requisitions.Get(ctx, tx, id)
		if err != nil {
			return err
		}

		if t.owner && !req.IsOwnedBy(actor.ID) && !actor.Elevated(s.overrideRoles) {
			return apperr.New(apperr.ErrUnauthorized,
				"only the requester or an administrator can %s this requisition", t.name).
				With("requisition_id", req.ID).With("actor_id", actor.ID)
		}
		if !t.allowed(req) {
			return apperr.Transition("this requisition cannot be %s", t.verb).
				With("requisition_id", req.ID).
				With("status", string(req.Status)).
				With("collection_status", string(req.CollectionStatus))
		}

		if t.stock != nil {
			ref := models.Reference{Type: models.RefRequisition, ID: req.ID}
			for _, line := range req.Items {
				if _, err := t.stock(ctx, tx, actor, line.InventoryItemID, line.Quantity, ref); err != nil {
					return err
				}
			}
		}

		from = t.value(req)
		t.apply(req, actor, s.clock.Now())
		to = t.value(req)

		if err := s.requisitions.Update(ctx, tx, req); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, req.ID, actor, t.kind, &from, to, t.comments); err != nil {
			return err
		}

		updated, err = s.requisitions.Get(ctx, tx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("requisition "+t.verb,
		"requisition_id", updated.ID,
		"actor_id", actor.ID,
		"kind", t.kind,
		"from", from,
		"to", to,
	)
	events.Notify(ctx, s.logger, s.publisher, events.New(t.event, updated.ID, actor.ID, map[string]any{
		"status":            string(updated.Status),
		"collection_status": string(updated.CollectionStatus),
		"comments":          t.comments,
	}))
	return updated, nil
}

func (s *Service) appendLog(ctx context.Context, tx *sqlx.Tx, reqID string, actor models.Actor, kind models.StatusLogKind, from *string, to, comments string) error {
	return s.requisitions.AppendLog(ctx, tx, &models.StatusLog{
		ID:            util.NewID(),
		RequisitionID: reqID,
		ChangedBy:     actor.ID,
		Kind:          kind,
		OldValue:      from,
		NewValue:      to,
		Comments:      comments,
		CreatedAt:     s.clock.Now(),
	})
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// Approve accepts a pending requisition. Its stock stays reserved until
// collection.
func (s *Service) Approve(ctx context.Context, actor models.Actor, id, comments string) (*models.Requisition, error) {
	return s.move(ctx, actor, id, transition{
		name:    "approve",
		verb:    "approved",
		event:   events.RequisitionApproved,
		kind:    models.LogKindStatus,
		allowed: (*models.Requisition).CanBeApproved,
		apply: func(req *models.Requisition, actor models.Actor, now time.Time) {
			req.Status = models.RequisitionApproved
			req.ApprovedBy = &actor.ID
			req.ApprovalDate = &now
		},
		comments: orDefault(comments, "Requisition approved"),
	})
}

// Reject turns down a pending requisition and releases its reservations.
func (s *Service) Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.Requisition, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Invalid("a rejection reason is required")
	}

	return s.move(ctx, actor, id, transition{
		name:    "reject",
		verb:    "rejected",
		event:   events.RequisitionRejected,
		kind:    models.LogKindStatus,
		allowed: (*models.Requisition).CanBeRejected,
		stock:   s.ledger.ReleaseStock,
		apply: func(req *models.Requisition, actor models.Actor, now time.Time) {
			req.Status = models.RequisitionRejected
			req.RejectionReason = &reason
			req.ApprovedBy = &actor.ID
			req.ApprovalDate = &now
		},
		comments: reason,
	})
}

// Cancel withdraws a pending requisition and releases its reservations.
// Only the requester or an override role may cancel.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Requisition, error) {
	return s.move(ctx, actor, id, transition{
		name:    "cancel",
		verb:    "cancelled",
		event:   events.RequisitionCancelled,
		kind:    models.LogKindStatus,
		owner:   true,
		allowed: (*models.Requisition).CanBeCancelled,
		stock:   s.ledger.ReleaseStock,
		apply: func(req *models.Requisition, _ models.Actor, _ time.Time) {
			req.Status = models.RequisitionCancelled
			req.CollectionStatus = models.CollectionCancelled
		},
		comments: orDefault(reason, "Cancelled by user"),
	})
}

// CancelCollection abandons the pick-up of an approved requisition and
// returns its reserved stock. The approval itself stands.
func (s *Service) CancelCollection(ctx context.Context, actor models.Actor, id, reason string) (*models.Requisition, error) {
	return s.move(ctx, actor, id, transition{
		name:    "cancel collection of",
		verb:    "withdrawn from collection",
		event:   events.RequisitionCollectionCancelled,
		kind:    models.LogKindCollection,
		owner:   true,
		allowed: (*models.Requisition).CanCancelCollection,
		stock:   s.ledger.ReleaseStock,
		apply: func(req *models.Requisition, _ models.Actor, _ time.Time) {
			req.CollectionStatus = models.CollectionCancelled
		},
		comments: orDefault(reason, "Collection cancelled"),
	})
}

// MarkReady flags an approved requisition's goods as ready for pick-up.
func (s *Service) MarkReady(ctx context.Context, actor models.Actor, id, comments string) (*models.Requisition, error) {
	return s.move(ctx, actor, id, transition{
		name:    "mark ready",
		verb:    "marked as ready",
		event:   events.RequisitionReady,
		kind:    models.LogKindCollection,
		allowed: (*models.Requisition).CanBeMarkedReady,
		apply: func(req *models.Requisition, _ models.Actor, _ time.Time) {
			req.CollectionStatus = models.CollectionReady
		},
		comments: orDefault(comments, "Items ready for collection"),
	})
}

// MarkCollected hands the goods out: every reservation is consumed and
// leaves the store.
func (s *Service) MarkCollected(ctx context.Context, actor models.Actor, id, comments string) (*models.Requisition, error) {
	return s.move(ctx, actor, id, transition{
		name:    "collect",
		verb:    "marked as collected",
		event:   events.RequisitionCollected,
		kind:    models.LogKindCollection,
		allowed: (*models.Requisition).CanBeCollected,
		stock:   s.ledger.CompleteTransaction,
		apply: func(req *models.Requisition, actor models.Actor, now time.Time) {
			req.CollectionStatus = models.CollectionCollected
			req.CollectedBy = &actor.ID
			req.CollectionDate = &now
		},
		comments: orDefault(comments, "Items collected successfully"),
	})
}

// ============================================================================
// QUERIES
// ============================================================================

// Get retrieves a requisition with its lines.
func (s *Service) Get(ctx context.Context, id string) (*models.Requisition, error) {
	return s.requisitions.Get(ctx, nil, id)
}

// List retrieves requisitions, latest first.
func (s *Service) List(ctx context.Context, filter models.RequisitionFilter, page models.Pagination) (*models.RequisitionList, error) {
	return s.requisitions.List(ctx, filter, page)
}

// History returns a requisition's transition log, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]*models.StatusLog, error) {
	if _, err := s.requisitions.Get(ctx, nil, id); err != nil {
		return nil, err
	}
	return s.requisitions.History(ctx, id)
}

// Statistics counts requisitions by state.
func (s *Service) Statistics(ctx context.Context, filter models.RequisitionStatsFilter) (*models.RequisitionStatistics, error) {
	return s.requisitions.Statistics(ctx, filter)
}

// CheckItemsAvailability reports whether a prospective requisition could be
// reserved right now. Nothing is reserved.
func (s *Service) CheckItemsAvailability(ctx context.Context, lines []models.StockLine) (*models.AvailabilityReport, error) {
	results, err := s.ledger.CheckAvailability(ctx, lines)
	if err != nil {
		return nil, err
	}

	report := &models.AvailabilityReport{Available: len(results) > 0, Items: make([]models.ItemAvailability, 0, len(results))}
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = "Unknown"
		}
		report.Items = append(report.Items, models.ItemAvailability{
			InventoryItemID: r.InventoryItemID,
			Name:            name,
			Requested:       r.RequestedQuantity,
			Available:       r.AvailableStock,
			IsAvailable:     r.Available,
		})
		if !r.Available {
			report.Available = false
		}
	}
	return report, nil
}
