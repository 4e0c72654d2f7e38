// Package procurement records purchases delivered into the store and runs
// the purchase request workflow that precedes them.
package procurement

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/database"
	"github.com/storekeeper/storekeeper/internal/events"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/repository"
	"github.com/storekeeper/storekeeper/internal/services/inventory"
	"github.com/storekeeper/storekeeper/internal/util"
)

// completionSavepoint guards the purchase request completion check.
const completionSavepoint = "purchase_request_completion"

// Service provides procurement operations.
type Service struct {
	db        *database.DB
	logs      *repository.ProcurementRepository
	requests  *repository.PurchaseRequestRepository
	ledger    *inventory.Ledger
	publisher events.Publisher
	clock     util.Clock
	logger    *slog.Logger

	// complete closes a purchase request once its lines are covered.
	complete func(ctx context.Context, tx *sqlx.Tx, actor models.Actor, prID string) (bool, error)
}

// Option configures a Service or Requests.
type Option func(*options)

type options struct {
	publisher events.Publisher
	clock     util.Clock
	logger    *slog.Logger
}

// WithPublisher sets where procurement and purchase request events go.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides the clock used for stage stamps.
func WithClock(c util.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{
		publisher: events.Nop{},
		clock:     util.SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewService creates a new procurement service on top of ledger.
func NewService(db *database.DB, ledger *inventory.Ledger, opts ...Option) *Service {
	o := buildOptions(opts)
	s := &Service{
		db:        db,
		logs:      repository.NewProcurementRepository(db.DB),
		requests:  repository.NewPurchaseRequestRepository(db.DB),
		ledger:    ledger,
		publisher: o.publisher,
		clock:     o.clock,
		logger:    o.logger,
	}
	s.complete = s.completeIfCovered
	return s
}

// ============================================================================
// LOGGING PURCHASES
// ============================================================================

func validateLog(input *LogInput) error {
	input.SupplierName = strings.TrimSpace(input.SupplierName)
	input.InventoryItemID = strings.TrimSpace(input.InventoryItemID)
	input.PurchaseRequestID = strings.TrimSpace(input.PurchaseRequestID)

	var problems []string
	if input.InventoryItemID == "" {
		problems = append(problems, "inventory item is required")
	}
	if input.Quantity <= 0 {
		problems = append(problems, "quantity must be positive")
	}
	if input.UnitPrice.IsNegative() {
		problems = append(problems, "unit price cannot be negative")
	}
	if input.SupplierName == "" {
		problems = append(problems, "supplier name is required")
	}
	if input.PurchaseDate.IsZero() {
		problems = append(problems, "purchase date is required")
	}
	if len(problems) > 0 {
		return apperr.Invalid("invalid procurement log: %s", strings.Join(problems, "; ")).With("problems", problems)
	}
	return nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// LogProcurement records a delivery: the log row, the stock received at its
// price and, for a linked purchase request, the completion check. A failing
// completion check is rolled back on its own and logged; the delivery still
// commits.
func (s *Service) LogProcurement(ctx context.Context, actor models.Actor, input LogInput) (*models.ProcurementLog, error) {
	if err := validateLog(&input); err != nil {
		return nil, err
	}

	log := &models.ProcurementLog{
		ID:              util.NewID(),
		InventoryItemID: input.InventoryItemID,
		Quantity:        input.Quantity,
		UnitPrice:       input.UnitPrice,
		TotalAmount:     input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))),
		SupplierName:    input.SupplierName,
		SupplierContact: optional(input.SupplierContact),
		InvoiceNumber:   optional(input.InvoiceNumber),
		PurchaseDate:    input.PurchaseDate,
		DeliveryDate:    input.DeliveryDate,
		LoggedBy:        actor.ID,
		Notes:           optional(input.Notes),
	}
	if input.PurchaseRequestID != "" {
		log.PurchaseRequestID = &input.PurchaseRequestID
	}

	completed := false
	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if log.PurchaseRequestID != nil {
			if _, err := s.requests.Get(ctx, tx, *log.PurchaseRequestID); err != nil {
				return err
			}
		}

		if err := s.logs.Create(ctx, tx, log); err != nil {
			return err
		}

		item, err := s.ledger.ReceiveStock(ctx, tx, actor, log.InventoryItemID, log.Quantity, log.UnitPrice,
			models.Reference{Type: models.RefProcurement, ID: log.ID})
		if err != nil {
			return err
		}
		log.Item = item

		if log.PurchaseRequestID == nil {
			return nil
		}
		prID := *log.PurchaseRequestID
		err = database.Savepoint(ctx, tx, completionSavepoint, func() error {
			var err error
			completed, err = s.complete(ctx, tx, actor, prID)
			return err
		})
		if err != nil {
			completed = false
			s.logger.Error("purchase request completion check failed",
				"purchase_request_id", prID,
				"procurement_log_id", log.ID,
				"error", err,
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("procurement logged",
		"procurement_log_id", log.ID,
		"item_id", log.InventoryItemID,
		"actor_id", actor.ID,
		"quantity", log.Quantity,
		"unit_price", log.UnitPrice.String(),
	)
	events.Notify(ctx, s.logger, s.publisher, events.New(events.ProcurementLogged, log.ID, actor.ID, map[string]any{
		"inventory_item_id": log.InventoryItemID,
		"quantity":          log.Quantity,
		"total_amount":      log.TotalAmount.String(),
	}))
	if completed {
		s.logger.Info("purchase request completed", "purchase_request_id", *log.PurchaseRequestID, "actor_id", actor.ID)
		events.Notify(ctx, s.logger, s.publisher, events.New(events.PurchaseRequestUpdated, *log.PurchaseRequestID, actor.ID, map[string]any{
			"status": string(models.PurchaseCompleted),
		}))
	}
	return log, nil
}

// completeIfCovered marks the purchase request completed when, for every
// line linked to an inventory item, the logged quantity reaches the line
// quantity. Lines without an item link are not checked.
func (s *Service) completeIfCovered(ctx context.Context, tx *sqlx.Tx, actor models.Actor, prID string) (bool, error) {
	pr, err := s.requests.Get(ctx, tx, prID)
	if err != nil {
		return false, err
	}
	if !pr.CanBeCompleted() {
		return false, nil
	}

	logged, err := s.logs.QuantitiesForRequest(ctx, tx, prID)
	if err != nil {
		return false, err
	}
	for _, line := range pr.Items {
		if line.InventoryItemID == nil {
			continue
		}
		if logged[*line.InventoryItemID] < line.Quantity {
			return false, nil
		}
	}

	now := s.clock.Now()
	pr.Status = models.PurchaseCompleted
	pr.CompletedBy = &actor.ID
	pr.CompletedAt = &now
	if err := s.requests.Update(ctx, tx, pr); err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// History lists procurement logs, latest purchase first.
func (s *Service) History(ctx context.Context, filter models.ProcurementFilter, page models.Pagination) (*models.ProcurementLogList, error) {
	return s.logs.History(ctx, filter, page)
}

// ByRequest returns the logs recorded against a purchase request.
func (s *Service) ByRequest(ctx context.Context, purchaseRequestID string) ([]*models.ProcurementLog, error) {
	if _, err := s.requests.Get(ctx, nil, purchaseRequestID); err != nil {
		return nil, err
	}
	return s.logs.ByRequest(ctx, purchaseRequestID)
}

// Recent returns the latest limit logs.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.ProcurementLog, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.logs.Recent(ctx, limit)
}

// Statistics aggregates logs whose purchase date falls in dates.
func (s *Service) Statistics(ctx context.Context, dates models.DateRange) (*models.ProcurementStatistics, error) {
	return s.logs.Statistics(ctx, dates)
}
