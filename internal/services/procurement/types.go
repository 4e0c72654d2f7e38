package procurement

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/models"
)

// LogInput contains data for recording a delivered purchase.
type LogInput struct {
	PurchaseRequestID string
	InventoryItemID   string
	Quantity          int
	UnitPrice         decimal.Decimal
	SupplierName      string
	SupplierContact   string
	InvoiceNumber     string
	PurchaseDate      time.Time
	DeliveryDate      *time.Time
	Notes             string
}

// CreateRequestInput contains data for raising a purchase request.
type CreateRequestInput struct {
	Branch        string
	Priority      models.Priority
	Justification string
	RequiredDate  *time.Time
	Items         []RequestLineInput
}

// RequestLineInput is one line of a purchase request. InventoryItemID is
// optional; when set, missing name, category and code are taken from the
// catalogue. Total defaults to Quantity * UnitPrice.
type RequestLineInput struct {
	InventoryItemID string
	ItemName        string
	ItemCategory    string
	ItemCode        string
	Quantity        int
	UnitPrice       decimal.Decimal
	Total           *decimal.Decimal
	Justification   string
}
