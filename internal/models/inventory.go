package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is a stocked store item with its three quantity counters.
//
// TotalStock is what is physically held, AvailableStock is what may still be
// promised, ReservedStock is what is promised to requisitions but not yet
// handed out. The ledger keeps available+reserved <= total at all times.
type InventoryItem struct {
	ID             string
	Code           string // "ST-A4-001"
	Name           string
	Category       string
	Description    string
	Location       string // shelf or bin reference
	UnitPrice      decimal.Decimal
	TotalStock     int
	AvailableStock int
	ReservedStock  int
	IsActive       bool
	LastRestocked  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasAvailable reports whether qty units can be reserved.
func (i *InventoryItem) HasAvailable(qty int) bool {
	return i.AvailableStock >= qty
}

// HasReserved reports whether qty units are held in reservation.
func (i *InventoryItem) HasReserved(qty int) bool {
	return i.ReservedStock >= qty
}

// Consistent reports whether the quantity counters satisfy the ledger
// invariants.
func (i *InventoryItem) Consistent() bool {
	return ValidLevels(i.TotalStock, i.AvailableStock, i.ReservedStock)
}

// IsLowStock reports whether available stock is at or below threshold.
func (i *InventoryItem) IsLowStock(threshold int) bool {
	return i.AvailableStock <= threshold
}

// IsOutOfStock reports whether nothing is available.
func (i *InventoryItem) IsOutOfStock() bool {
	return i.AvailableStock <= 0
}

// ValidLevels checks a candidate set of counters.
func ValidLevels(total, available, reserved int) bool {
	if total < 0 || available < 0 || reserved < 0 {
		return false
	}
	return available+reserved <= total
}

// ItemFilter narrows inventory item listings.
type ItemFilter struct {
	Category    string
	Search      string // matches name, code or description
	ActiveOnly  bool
	InStockOnly bool
}

// ItemList is a page of inventory items.
type ItemList struct {
	Items      []*InventoryItem
	Total      int
	Page       int
	TotalPages int
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	MovementReserve  MovementType = "reserve"
	MovementRelease  MovementType = "release"
	MovementComplete MovementType = "complete"
	MovementRestock  MovementType = "restock"
	MovementAdjust   MovementType = "adjust"
	MovementProcure  MovementType = "procure"
)

func (m MovementType) String() string {
	return string(m)
}

// StockLevels is a snapshot of an item's three counters.
type StockLevels struct {
	Total     int
	Available int
	Reserved  int
}

// Levels returns the item's current counters.
func (i *InventoryItem) Levels() StockLevels {
	return StockLevels{Total: i.TotalStock, Available: i.AvailableStock, Reserved: i.ReservedStock}
}

// Reference points a stock movement at the record that caused it.
type Reference struct {
	Type string // "requisition", "procurement", "manual"
	ID   string
}

// Reference types.
const (
	RefRequisition = "requisition"
	RefProcurement = "procurement"
)

// StockMovement is an append-only ledger row written alongside every
// quantity change.
type StockMovement struct {
	ID              string
	InventoryItemID string
	Type            MovementType
	Quantity        int
	Before          StockLevels
	After           StockLevels
	ReferenceType   *string
	ReferenceID     *string
	ActorID         *string
	Notes           string
	CreatedAt       time.Time
}

// MovementFilter narrows stock movement listings.
type MovementFilter struct {
	InventoryItemID string
	Type            MovementType
	ReferenceType   string
	ReferenceID     string
}

// MovementList is a page of stock movements.
type MovementList struct {
	Movements  []*StockMovement
	Total      int
	Page       int
	TotalPages int
}

// StockLine asks about a quantity of one item.
type StockLine struct {
	InventoryItemID string
	Quantity        int
}

// RequestedTotals sums the quantities asked of each item.
func RequestedTotals(lines []StockLine) map[string]int {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.InventoryItemID] += line.Quantity
	}
	return totals
}

// AvailabilityResult is the per-line answer of an availability check.
type AvailabilityResult struct {
	InventoryItemID   string
	Name              string
	Code              string
	RequestedQuantity int
	AvailableStock    int
	Available         bool
	Message           string
}

// InventoryStatistics summarises active inventory.
type InventoryStatistics struct {
	TotalItems          int
	LowStockItems       int
	OutOfStockItems     int
	TotalStockValue     decimal.Decimal
	AvailableStockValue decimal.Decimal
	ReservedStockValue  decimal.Decimal
}
