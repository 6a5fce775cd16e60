// Package delivery implements the delivery lifecycle and proof-of-delivery
// capture.
package delivery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// transitions is the only encoding of the delivery state machine. A driver
// can be pulled back one step (assigned→pending, in_transit→assigned) when
// dispatch reshuffles routes.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusInTransit, StatusPending, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusAssigned},
	StatusDelivered: {},
	StatusCancelled: {},
}

// IsValid checks membership of the closed status set.
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

// AllowedNext returns the states reachable from s.
func (s Status) AllowedNext() []Status {
	allowed := transitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// Terminal reports whether the delivery can no longer change.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Delivery carries one approved order to its store.
type Delivery struct {
	ID            int64      `json:"id"`
	OrderID       int64      `json:"order_id"`
	StoreID       int64      `json:"store_id"`
	Status        Status     `json:"status"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	DriverID      *int64     `json:"driver_id,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ProofOfDelivery is the at-most-one signature/photo record per delivery.
// Writes are upserts; the latest one wins.
type ProofOfDelivery struct {
	DeliveryID   int64     `json:"delivery_id"`
	SignatureRef *string   `json:"signature_ref,omitempty"`
	PhotoRef     *string   `json:"photo_ref,omitempty"`
	CapturedBy   int64     `json:"captured_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrNotFound indicates the delivery was not found.
var ErrNotFound = errors.New("delivery not found")

// ErrDriverRequired indicates assignment without a driver.
var ErrDriverRequired = errors.New("driver required for assignment")

// InvalidTransitionError reports a rejected state change and the allowed
// next states.
type InvalidTransitionError struct {
	From      Status
	Attempted Status
	Allowed   []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("delivery: cannot move from terminal state %s", e.From)
	}
	return fmt.Sprintf("delivery: cannot move from %s to %s (allowed: %s)", e.From, e.Attempted, strings.Join(allowed, ", "))
}

func invalidTransition(from, attempted Status) error {
	return &InvalidTransitionError{From: from, Attempted: attempted, Allowed: from.AllowedNext()}
}
