package requisitions

// CreateInput contains data for raising a requisition.
type CreateInput struct {
	Department string
	Branch     string
	Notes      string
	Items      []LineInput
}

// LineInput is one requested item.
type LineInput struct {
	InventoryItemID string
	Quantity        int
	Purpose         string
}
