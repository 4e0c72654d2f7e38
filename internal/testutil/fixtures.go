package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

var fixtureSeq atomic.Int64

// FixtureItem creates an inventory item with ten units available.
func FixtureItem(overrides ...func(*models.InventoryItem)) *models.InventoryItem {
	n := fixtureSeq.Add(1)
	now := time.Now().UTC()

	item := &models.InventoryItem{
		ID:             util.NewID(),
		Code:           fmt.Sprintf("TST-%05d", n),
		Name:           fmt.Sprintf("Test item %d", n),
		Category:       "Stationery",
		Description:    "Fixture item",
		Location:       "Shelf A1",
		UnitPrice:      decimal.RequireFromString("2.50"),
		TotalStock:     10,
		AvailableStock: 10,
		ReservedStock:  0,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(item)
	}

	return item
}

// WithStock sets all three counters of a fixture item.
func WithStock(total, available, reserved int) func(*models.InventoryItem) {
	return func(i *models.InventoryItem) {
		i.TotalStock = total
		i.AvailableStock = available
		i.ReservedStock = reserved
	}
}

// InsertItem creates and stores a fixture item.
func InsertItem(t testing.TB, db *TestDB, overrides ...func(*models.InventoryItem)) *models.InventoryItem {
	t.Helper()

	item := FixtureItem(overrides...)
	active := 0
	if item.IsActive {
		active = 1
	}
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO inventory_items (
			id, code, name, category, description, location, unit_price,
			total_stock, available_stock, reserved_stock, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Code, item.Name, item.Category, item.Description, item.Location,
		item.UnitPrice.String(), item.TotalStock, item.AvailableStock, item.ReservedStock,
		active, util.FormatTimestamp(item.CreatedAt), util.FormatTimestamp(item.UpdatedAt),
	)
	if err != nil {
		t.Fatalf("failed to insert fixture item: %v", err)
	}
	return item
}

// ItemLevels reads an item's counters straight from the database.
func ItemLevels(t testing.TB, db *TestDB, itemID string) models.StockLevels {
	t.Helper()

	var levels struct {
		Total     int `db:"total_stock"`
		Available int `db:"available_stock"`
		Reserved  int `db:"reserved_stock"`
	}
	if err := db.Get(&levels,
		`SELECT total_stock, available_stock, reserved_stock FROM inventory_items WHERE id = ?`, itemID); err != nil {
		t.Fatalf("failed to read stock levels of %s: %v", itemID, err)
	}
	return models.StockLevels{Total: levels.Total, Available: levels.Available, Reserved: levels.Reserved}
}

// FixtureRequisition creates a pending requisition without lines.
func FixtureRequisition(requesterID string, overrides ...func(*models.Requisition)) *models.Requisition {
	now := time.Now().UTC()

	req := &models.Requisition{
		ID:               util.NewID(),
		RequesterID:      requesterID,
		Department:       "Finance",
		Branch:           "Head Office",
		RequestDate:      now,
		Status:           models.RequisitionPending,
		CollectionStatus: models.CollectionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for _, override := range overrides {
		override(req)
	}

	return req
}

// FixturePurchaseRequest creates a pending purchase request with one line
// per item, two units each at the item's price.
func FixturePurchaseRequest(requestedBy, code string, items ...*models.InventoryItem) *models.PurchaseRequest {
	pr := &models.PurchaseRequest{
		ID:            util.NewID(),
		RequestCode:   code,
		RequestedBy:   requestedBy,
		Branch:        "Head Office",
		Priority:      models.PriorityMedium,
		Justification: "Restock",
		TotalAmount:   decimal.Zero,
		Status:        models.PurchasePending,
		AdminStatus:   models.AdminPending,
		FinanceStatus: models.FinancePending,
	}

	for _, item := range items {
		id := item.ID
		line := &models.PurchaseRequestItem{
			ID:              util.NewID(),
			InventoryItemID: &id,
			ItemName:        item.Name,
			ItemCategory:    item.Category,
			ItemCode:        item.Code,
			Quantity:        2,
			UnitPrice:       item.UnitPrice,
			Total:           item.UnitPrice.Mul(decimal.NewFromInt(2)),
		}
		pr.Items = append(pr.Items, line)
		pr.TotalAmount = pr.TotalAmount.Add(line.Total)
	}

	return pr
}

// Actor returns an actor with the given id and role.
func Actor(id string, role models.Role) models.Actor {
	return models.Actor{ID: id, Role: role}
}
