// Package orders implements the wholesale order lifecycle and its approval
// side effects.
package orders

import "time"

// Status represents the lifecycle of an order.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Source records which path created the order.
type Source string

const (
	SourceManual        Source = "manual"
	SourceReplenishment Source = "replenishment"
)

// transitions is the only place the order state machine is encoded.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusApproved, StatusRejected, StatusCancelled},
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusCompleted, StatusCancelled},
	StatusRejected:  {},
	StatusCompleted: {},
	StatusCancelled: {},
}

// IsValid checks if the status is one of the closed set.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether next is reachable from s.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedNext returns the states reachable from s, for error payloads.
func (s Status) AllowedNext() []Status {
	allowed := transitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Editable reports whether item mutations are still allowed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusPending
}

// Order is a wholesale order placed by (or generated for) a store.
type Order struct {
	ID             int64       `json:"id"`
	Number         string      `json:"number"`
	StoreID        int64       `json:"store_id"`
	Status         Status      `json:"status"`
	Source         Source      `json:"source"`
	TotalAmount    float64     `json:"total_amount"`
	DiscountAmount float64     `json:"discount_amount"`
	FinalAmount    float64     `json:"final_amount"`
	Notes          *string     `json:"notes,omitempty"`
	RejectReason   *string     `json:"reject_reason,omitempty"`
	CreatedBy      int64       `json:"created_by"`
	ApprovedBy     *int64      `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Items          []OrderItem `json:"items,omitempty"`
}

// OrderItem is one product line. UnitPrice is snapshotted when the line is
// written and never follows later catalogue price changes.
type OrderItem struct {
	ID         int64   `json:"id"`
	OrderID    int64   `json:"order_id"`
	ProductID  int64   `json:"product_id"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// ItemInput is a requested order line.
type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// KitchenLine is one preparation line copied from an order item at approval.
type KitchenLine struct {
	ProductID int64
	Quantity  int64
}
