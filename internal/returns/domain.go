// Package returns records goods sent back by stores after delivery and
// reconciles them against stock and the order invoice.
package returns

import (
	"errors"
	"fmt"
	"time"
)

// Reason codes why goods came back.
type Reason string

const (
	ReasonExpired Reason = "expired"
	ReasonDamaged Reason = "damaged"
	ReasonUnsold  Reason = "unsold"
)

// IsValid checks membership of the closed reason set.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonExpired, ReasonDamaged, ReasonUnsold:
		return true
	}
	return false
}

// Return is one immutable returned line. ReturnValue is the credit applied
// to the invoice, at the unit price the store was charged.
type Return struct {
	ID          int64     `json:"id"`
	DeliveryID  int64     `json:"delivery_id"`
	OrderID     int64     `json:"order_id"`
	StoreID     int64     `json:"store_id"`
	ProductID   int64     `json:"product_id"`
	Quantity    int64     `json:"quantity"`
	Reason      Reason    `json:"reason"`
	ReturnValue float64   `json:"return_value"`
	ReturnedBy  int64     `json:"returned_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// LineInput is one requested return line.
type LineInput struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reason    Reason `json:"reason"`
}

// ProcessResult summarises one accepted return batch.
type ProcessResult struct {
	Returns     []Return `json:"returns"`
	ReturnValue float64  `json:"return_value"`
	InvoiceID   int64    `json:"invoice_id"`
}

var (
	// ErrDeliveryNotDelivered indicates a return against a delivery that has
	// not arrived.
	ErrDeliveryNotDelivered = errors.New("delivery is not in delivered state")
	// ErrInvalidReason indicates a reason outside the closed set.
	ErrInvalidReason = errors.New("invalid return reason")
	// ErrEmptyReturn indicates a batch with no lines.
	ErrEmptyReturn = errors.New("return has no lines")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("return quantity must be positive")
	// ErrProductNotDelivered indicates a line for a product absent from the
	// order.
	ErrProductNotDelivered = errors.New("product was not part of the delivery")
)

// OverReturnViolation details one line that asked back more than remains
// returnable.
type OverReturnViolation struct {
	ProductID       int64 `json:"product_id"`
	Delivered       int64 `json:"delivered"`
	AlreadyReturned int64 `json:"already_returned"`
	Requested       int64 `json:"requested"`
	Returnable      int64 `json:"returnable"`
}

// OverReturnError rejects a whole batch; it always carries every violating
// line so the caller can fix the batch in one round trip.
type OverReturnError struct {
	Violations []OverReturnViolation
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("return exceeds delivered quantity on %d line(s)", len(e.Violations))
}
