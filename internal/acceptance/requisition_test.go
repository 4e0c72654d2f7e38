package acceptance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/services/inventory"
	"github.com/storekeeper/storekeeper/internal/services/procurement"
	"github.com/storekeeper/storekeeper/internal/services/requisitions"
	"github.com/storekeeper/storekeeper/internal/testutil"
)

// storeContext holds state for one scenario.
type storeContext struct {
	t            *testing.T
	db           *testutil.TestDB
	ledger       *inventory.Ledger
	requisitions *requisitions.Service
	procurement  *procurement.Service

	items       map[string]*models.InventoryItem
	requisition *models.Requisition
	purchase    *models.ProcurementLog
	lastErr     error
}

func (sc *storeContext) reset() {
	sc.db = testutil.NewTestDB(sc.t)
	sc.ledger = inventory.NewLedger(sc.db.DB)
	sc.requisitions = requisitions.NewService(sc.db.DB, sc.ledger)
	sc.procurement = procurement.NewService(sc.db.DB, sc.ledger)
	sc.items = make(map[string]*models.InventoryItem)
	sc.requisition = nil
	sc.purchase = nil
	sc.lastErr = nil
}

func (sc *storeContext) item(name string) (*models.InventoryItem, error) {
	item, ok := sc.items[name]
	if !ok {
		return nil, fmt.Errorf("no item named %q in this scenario", name)
	}
	return item, nil
}

func (sc *storeContext) current() (*models.Requisition, error) {
	if sc.requisition == nil {
		return nil, fmt.Errorf("no requisition was created: %v", sc.lastErr)
	}
	return sc.requisition, nil
}

// ============================================================================
// GIVEN
// ============================================================================

func (sc *storeContext) anItemWithStock(name string, total, available, reserved int) error {
	item := testutil.InsertItem(sc.t, sc.db, testutil.WithStock(total, available, reserved), func(i *models.InventoryItem) {
		i.Name = name
	})
	sc.items[name] = item
	return nil
}

// ============================================================================
// WHEN
// ============================================================================

func (sc *storeContext) requests(actorID string, qty int, name string) error {
	item, err := sc.item(name)
	if err != nil {
		return err
	}
	req, err := sc.requisitions.Create(context.Background(), testutil.Actor(actorID, models.RoleStaff), requisitions.CreateInput{
		Department: "Operations",
		Branch:     "Head Office",
		Items:      []requisitions.LineInput{{InventoryItemID: item.ID, Quantity: qty}},
	})
	sc.lastErr = err
	if err == nil {
		sc.requisition = req
	}
	return nil
}

type transitionFunc func(s *requisitions.Service, ctx context.Context, actor models.Actor, id, text string) (*models.Requisition, error)

func (sc *storeContext) move(actorID string, role models.Role, fn transitionFunc, text string) error {
	req, err := sc.current()
	if err != nil {
		return err
	}
	updated, err := fn(sc.requisitions, context.Background(), testutil.Actor(actorID, role), req.ID, text)
	if err != nil {
		return fmt.Errorf("transition failed: %w", err)
	}
	sc.requisition = updated
	return nil
}

func (sc *storeContext) approves(actorID string) error {
	return sc.move(actorID, models.RoleApprover, (*requisitions.Service).Approve, "")
}

func (sc *storeContext) rejects(actorID, reason string) error {
	return sc.move(actorID, models.RoleApprover, (*requisitions.Service).Reject, reason)
}

func (sc *storeContext) marksReady(actorID string) error {
	return sc.move(actorID, models.RoleStoreKeeper, (*requisitions.Service).MarkReady, "")
}

func (sc *storeContext) marksCollected(actorID string) error {
	return sc.move(actorID, models.RoleStoreKeeper, (*requisitions.Service).MarkCollected, "")
}

func (sc *storeContext) logsPurchase(actorID string, qty int, name, price, supplier string) error {
	item, err := sc.item(name)
	if err != nil {
		return err
	}
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	entry, err := sc.procurement.LogProcurement(context.Background(), testutil.Actor(actorID, models.RoleProcurement), procurement.LogInput{
		InventoryItemID: item.ID,
		Quantity:        qty,
		UnitPrice:       unitPrice,
		SupplierName:    supplier,
		PurchaseDate:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("logging procurement: %w", err)
	}
	sc.purchase = entry
	return nil
}

// ============================================================================
// THEN
// ============================================================================

func (sc *storeContext) itemHasStock(name string, total, available, reserved int) error {
	item, err := sc.item(name)
	if err != nil {
		return err
	}
	want := models.StockLevels{Total: total, Available: available, Reserved: reserved}
	if got := testutil.ItemLevels(sc.t, sc.db, item.ID); got != want {
		return fmt.Errorf("expected %s at %+v, got %+v", name, want, got)
	}
	return nil
}

func (sc *storeContext) requisitionStatusIs(status string) error {
	req, err := sc.current()
	if err != nil {
		return err
	}
	if string(req.Status) != status {
		return fmt.Errorf("expected status %q, got %q", status, req.Status)
	}
	return nil
}

func (sc *storeContext) collectionStatusIs(status string) error {
	req, err := sc.current()
	if err != nil {
		return err
	}
	if string(req.CollectionStatus) != status {
		return fmt.Errorf("expected collection status %q, got %q", status, req.CollectionStatus)
	}
	return nil
}

func (sc *storeContext) requestFailsWith(code string) error {
	if sc.lastErr == nil {
		return errors.New("expected the request to fail")
	}
	if got := string(apperr.CodeOf(sc.lastErr)); got != code {
		return fmt.Errorf("expected error code %s, got %s (%v)", code, got, sc.lastErr)
	}
	return nil
}

func (sc *storeContext) noRequisitionRecorded() error {
	var count int
	if err := sc.db.Get(&count, `SELECT COUNT(*) FROM requisitions`); err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected no requisitions, found %d", count)
	}
	return nil
}

func (sc *storeContext) lastStatusChange(from, to string) error {
	req, err := sc.current()
	if err != nil {
		return err
	}
	logs, err := sc.requisitions.History(context.Background(), req.ID)
	if err != nil {
		return err
	}
	for i := len(logs) - 1; i >= 0; i-- {
		entry := logs[i]
		if entry.Kind != models.LogKindStatus {
			continue
		}
		if entry.OldValue == nil || *entry.OldValue != from || entry.NewValue != to {
			return fmt.Errorf("expected %s -> %s, got %v -> %s", from, to, entry.OldValue, entry.NewValue)
		}
		return nil
	}
	return errors.New("no status changes recorded")
}

func (sc *storeContext) procurementTotalIs(amount string) error {
	if sc.purchase == nil {
		return errors.New("no procurement was logged")
	}
	want := decimal.RequireFromString(amount)
	if !sc.purchase.TotalAmount.Equal(want) {
		return fmt.Errorf("expected total %s, got %s", want, sc.purchase.TotalAmount)
	}
	return nil
}

func (sc *storeContext) itemPricedAt(name, price string) error {
	item, err := sc.item(name)
	if err != nil {
		return err
	}
	stored, err := sc.ledger.GetItem(context.Background(), item.ID)
	if err != nil {
		return err
	}
	if want := decimal.RequireFromString(price); !stored.UnitPrice.Equal(want) {
		return fmt.Errorf("expected %s priced at %s, got %s", name, want, stored.UnitPrice)
	}
	return nil
}

func initializeScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		sc := &storeContext{t: t}

		ctx.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
			sc.reset()
			return ctx, nil
		})

		// Given
		ctx.Step(`^an item "([^"]*)" with stock (\d+) total, (\d+) available and (\d+) reserved$`, sc.anItemWithStock)

		// When
		ctx.Step(`^"([^"]*)" requests (\d+) of "([^"]*)"$`, sc.requests)
		ctx.Step(`^"([^"]*)" approves the requisition$`, sc.approves)
		ctx.Step(`^"([^"]*)" rejects the requisition because "([^"]*)"$`, sc.rejects)
		ctx.Step(`^"([^"]*)" marks the requisition ready$`, sc.marksReady)
		ctx.Step(`^"([^"]*)" marks the requisition collected$`, sc.marksCollected)
		ctx.Step(`^"([^"]*)" logs a purchase of (\d+) "([^"]*)" at (\d+(?:\.\d+)?) from "([^"]*)"$`, sc.logsPurchase)

		// Then
		ctx.Step(`^"([^"]*)" has stock (\d+) total, (\d+) available and (\d+) reserved$`, sc.itemHasStock)
		ctx.Step(`^the requisition status is "([^"]*)"$`, sc.requisitionStatusIs)
		ctx.Step(`^the collection status is "([^"]*)"$`, sc.collectionStatusIs)
		ctx.Step(`^the request fails with "([^"]*)"$`, sc.requestFailsWith)
		ctx.Step(`^no requisition was recorded$`, sc.noRequisitionRecorded)
		ctx.Step(`^the last status change went from "([^"]*)" to "([^"]*)"$`, sc.lastStatusChange)
		ctx.Step(`^the procurement total is "([^"]*)"$`, sc.procurementTotalIs)
		ctx.Step(`^"([^"]*)" is priced at "([^"]*)"$`, sc.itemPricedAt)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
