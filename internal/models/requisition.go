package models

import (
	"time"
)

// RequisitionStatus is the approval state of a requisition.
type RequisitionStatus string

const (
	RequisitionPending   RequisitionStatus = "pending"
	RequisitionApproved  RequisitionStatus = "approved"
	RequisitionRejected  RequisitionStatus = "rejected"
	RequisitionCancelled RequisitionStatus = "cancelled"
)

func (s RequisitionStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s RequisitionStatus) Valid() bool {
	switch s {
	case RequisitionPending, RequisitionApproved, RequisitionRejected, RequisitionCancelled:
		return true
	}
	return false
}

// CollectionStatus tracks the physical hand-off of an approved requisition.
type CollectionStatus string

const (
	CollectionPending   CollectionStatus = "pending"
	CollectionReady     CollectionStatus = "ready"
	CollectionCollected CollectionStatus = "collected"
	CollectionCancelled CollectionStatus = "cancelled"
)

func (s CollectionStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known collection status.
func (s CollectionStatus) Valid() bool {
	switch s {
	case CollectionPending, CollectionReady, CollectionCollected, CollectionCancelled:
		return true
	}
	return false
}

// Requisition is a staff request for store items.
type Requisition struct {
	ID               string
	RequesterID      string
	Department       string
	Branch           string
	RequestDate      time.Time
	Status           RequisitionStatus
	CollectionStatus CollectionStatus
	ApprovedBy       *string
	ApprovalDate     *time.Time
	RejectionReason  *string
	CollectedBy      *string
	CollectionDate   *time.Time
	Notes            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Joined fields
	Items []*RequisitionItem
}

// CanBeApproved reports whether the requisition may move to approved.
func (r *Requisition) CanBeApproved() bool {
	return r.Status == RequisitionPending
}

// CanBeRejected reports whether the requisition may move to rejected.
func (r *Requisition) CanBeRejected() bool {
	return r.Status == RequisitionPending
}

// CanBeCancelled reports whether the requisition may be withdrawn.
func (r *Requisition) CanBeCancelled() bool {
	return r.Status == RequisitionPending
}

// CanBeMarkedReady reports whether the goods may be flagged for pick-up.
func (r *Requisition) CanBeMarkedReady() bool {
	return r.Status == RequisitionApproved && r.CollectionStatus == CollectionPending
}

// CanBeCollected reports whether the goods may be handed out.
func (r *Requisition) CanBeCollected() bool {
	return r.Status == RequisitionApproved && r.CollectionStatus == CollectionReady
}

// CanCancelCollection reports whether an approved requisition's pick-up may
// be abandoned, returning its reserved stock.
func (r *Requisition) CanCancelCollection() bool {
	if r.Status != RequisitionApproved {
		return false
	}
	return r.CollectionStatus == CollectionPending || r.CollectionStatus == CollectionReady
}

// HoldsReservation reports whether the requisition's lines are still
// reserved against inventory.
func (r *Requisition) HoldsReservation() bool {
	switch r.Status {
	case RequisitionPending:
		return true
	case RequisitionApproved:
		return r.CollectionStatus == CollectionPending || r.CollectionStatus == CollectionReady
	}
	return false
}

// IsOwnedBy reports whether userID raised the requisition.
func (r *Requisition) IsOwnedBy(userID string) bool {
	return r.RequesterID == userID
}

// TotalQuantity sums the quantities of all lines.
func (r *Requisition) TotalQuantity() int {
	total := 0
	for _, item := range r.Items {
		total += item.Quantity
	}
	return total
}

// RequisitionItem is one line of a requisition. Lines are immutable.
type RequisitionItem struct {
	ID              string
	RequisitionID   string
	InventoryItemID string
	Quantity        int
	Purpose         string
	CreatedAt       time.Time

	// Joined fields
	Item *InventoryItem
}

// StatusLogKind separates approval transitions from collection transitions.
type StatusLogKind string

const (
	LogKindStatus     StatusLogKind = "status"
	LogKindCollection StatusLogKind = "collection"
)

// StatusLog is an append-only record of one transition.
type StatusLog struct {
	ID            string
	RequisitionID string
	ChangedBy     string
	Kind          StatusLogKind
	OldValue      *string
	NewValue      string
	Comments      string
	CreatedAt     time.Time
}

// RequisitionFilter narrows requisition listings.
type RequisitionFilter struct {
	RequesterID      string
	Status           RequisitionStatus
	CollectionStatus CollectionStatus
	Department       string
	Branch           string
}

// RequisitionList is a page of requisitions.
type RequisitionList struct {
	Requisitions []*Requisition
	Total        int
	Page         int
	TotalPages   int
}

// RequisitionStatsFilter scopes requisition statistics. The date range only
// applies when both ends are set.
type RequisitionStatsFilter struct {
	RequesterID string
	Department  string
	Range       DateRange
}

// RequisitionStatistics counts requisitions by state.
type RequisitionStatistics struct {
	Total              int
	Pending            int
	Approved           int
	Rejected           int
	Cancelled          int
	Collected          int
	ReadyForCollection int
}

// ItemAvailability is the per-line answer of a requisition pre-check.
type ItemAvailability struct {
	InventoryItemID string
	Name            string
	Requested       int
	Available       int
	IsAvailable     bool
}

// AvailabilityReport is the result of checking every line of a prospective
// requisition.
type AvailabilityReport struct {
	Available bool
	Items     []ItemAvailability
}
