package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRequestStatus is the overall state of a purchase request.
type PurchaseRequestStatus string

const (
	PurchasePending   PurchaseRequestStatus = "pending"
	PurchaseApproved  PurchaseRequestStatus = "approved"
	PurchaseRejected  PurchaseRequestStatus = "rejected"
	PurchaseCancelled PurchaseRequestStatus = "cancelled"
	PurchaseCompleted PurchaseRequestStatus = "completed"
)

// AdminStatus is the admin review stage of a purchase request.
type AdminStatus string

const (
	AdminPending  AdminStatus = "pending"
	AdminReviewed AdminStatus = "reviewed"
	AdminRejected AdminStatus = "rejected"
)

// FinanceStatus is the finance approval stage of a purchase request.
type FinanceStatus string

const (
	FinancePending  FinanceStatus = "pending"
	FinanceApproved FinanceStatus = "approved"
	FinanceRejected FinanceStatus = "rejected"
)

// Priority ranks purchase request urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PurchaseRequest asks for stock to be bought. It passes an admin review,
// then finance approval, and completes once procurement logs cover every
// inventory-linked line.
type PurchaseRequest struct {
	ID               string
	RequestCode      string // "PR-2026-0001"
	RequestedBy      string
	Branch           string
	Priority         Priority
	Justification    string
	TotalAmount      decimal.Decimal
	RequiredDate     *time.Time
	Status           PurchaseRequestStatus
	AdminStatus      AdminStatus
	FinanceStatus    FinanceStatus
	ReviewedBy       *string
	ReviewedAt       *time.Time
	ReviewComments   *string
	ApprovedBy       *string
	ApprovedAt       *time.Time
	ApprovalComments *string
	RejectedBy       *string
	RejectedAt       *time.Time
	RejectionReason  *string
	CompletedBy      *string
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Joined fields
	Items []*PurchaseRequestItem
}

// IsTerminal reports whether no further stage move is possible.
func (p *PurchaseRequest) IsTerminal() bool {
	switch p.Status {
	case PurchaseCompleted, PurchaseCancelled, PurchaseRejected:
		return true
	}
	return false
}

// CanBeReviewed reports whether the admin stage is open.
func (p *PurchaseRequest) CanBeReviewed() bool {
	return p.Status == PurchasePending && p.AdminStatus == AdminPending
}

// CanBeApproved reports whether the finance stage is open.
func (p *PurchaseRequest) CanBeApproved() bool {
	return p.Status == PurchasePending && p.AdminStatus == AdminReviewed && p.FinanceStatus == FinancePending
}

// CanBeRejected reports whether the request may still be turned down.
func (p *PurchaseRequest) CanBeRejected() bool {
	return !p.IsTerminal()
}

// CanBeCancelled reports whether the requester may still withdraw it.
func (p *PurchaseRequest) CanBeCancelled() bool {
	return p.Status == PurchasePending
}

// CanBeCompleted reports whether procurement may close the request.
func (p *PurchaseRequest) CanBeCompleted() bool {
	return !p.IsTerminal()
}

// PurchaseRequestItem is one line of a purchase request. InventoryItemID is
// nil for items not yet catalogued.
type PurchaseRequestItem struct {
	ID                string
	PurchaseRequestID string
	InventoryItemID   *string
	ItemName          string
	ItemCategory      string
	ItemCode          string
	Quantity          int
	UnitPrice         decimal.Decimal
	Total             decimal.Decimal
	Justification     string
}

// PurchaseRequestFilter narrows purchase request listings.
type PurchaseRequestFilter struct {
	Status        PurchaseRequestStatus
	AdminStatus   AdminStatus
	FinanceStatus FinanceStatus
	Priority      Priority
	RequestedBy   string
	Branch        string
	Range         DateRange
}

// PurchaseRequestList is a page of purchase requests.
type PurchaseRequestList struct {
	Requests   []*PurchaseRequest
	Total      int
	Page       int
	TotalPages int
}

// PurchaseRequestStatistics counts purchase requests by stage.
type PurchaseRequestStatistics struct {
	Total               int
	Pending             int
	Approved            int
	Rejected            int
	Cancelled           int
	Completed           int
	PendingReview       int
	PendingFinance      int
	TotalApprovedAmount decimal.Decimal
}

// ProcurementLog records one purchase delivered into the store. Logs are
// immutable.
type ProcurementLog struct {
	ID                string
	PurchaseRequestID *string
	InventoryItemID   string
	Quantity          int
	UnitPrice         decimal.Decimal
	TotalAmount       decimal.Decimal
	SupplierName      string
	SupplierContact   *string
	InvoiceNumber     *string
	PurchaseDate      time.Time
	DeliveryDate      *time.Time
	LoggedBy          string
	Notes             *string
	CreatedAt         time.Time

	// Joined fields
	Item *InventoryItem
}

// ProcurementFilter narrows procurement history.
type ProcurementFilter struct {
	InventoryItemID   string
	PurchaseRequestID string
	Supplier          string // substring match
	LoggedBy          string
	Range             DateRange
}

// ProcurementLogList is a page of procurement logs.
type ProcurementLogList struct {
	Logs       []*ProcurementLog
	Total      int
	Page       int
	TotalPages int
}

// ProcurementStatistics aggregates procurement logs over a purchase-date
// range.
type ProcurementStatistics struct {
	TotalProcurements       int
	TotalAmount             decimal.Decimal
	TotalItemsProcured      int
	UniqueItems             int
	UniqueSuppliers         int
	LinkedToRequests        int
	AverageProcurementValue decimal.Decimal
}
