package inventory

import (
	"github.com/shopspring/decimal"
)

// CreateItemInput contains data for adding an item to the catalogue.
type CreateItemInput struct {
	Code           string
	Name           string
	Category       string
	Description    string
	Location       string
	UnitPrice      decimal.Decimal
	TotalStock     int
	AvailableStock int
	ReservedStock  int
}

// AdjustInput sets all three counters of an item after a stock count.
type AdjustInput struct {
	TotalStock     int
	AvailableStock int
	ReservedStock  int
	Notes          string
}
