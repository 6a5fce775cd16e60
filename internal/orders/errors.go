package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for orders.
var (
	// ErrNotFound indicates the requested order was not found.
	ErrNotFound = errors.New("order not found")

	// Validation errors surfaced by approval and item mutation.
	ErrInactiveStore   = errors.New("store is inactive")
	ErrInactiveProduct = errors.New("product is inactive")
	ErrEmptyOrder      = errors.New("order has no items")
	ErrInvalidQuantity = errors.New("item quantity must be greater than zero")
	ErrInvalidDiscount = errors.New("discount must not exceed order total")
	ErrNotEditable     = errors.New("order items can only be changed while draft or pending")
)

// InvalidTransitionError reports a rejected state change together with the
// states that would have been allowed.
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
		return fmt.Sprintf("orders: cannot move from terminal state %s", e.From)
	}
	return fmt.Sprintf("orders: cannot move from %s to %s (allowed: %s)", e.From, e.Attempted, strings.Join(allowed, ", "))
}

// CreditLimitExceededError reports the credit check numbers that failed.
type CreditLimitExceededError struct {
	StoreID int64
	Limit   float64
	Balance float64
	Amount  float64
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("orders: store %d credit limit exceeded: balance %.2f + order %.2f > limit %.2f",
		e.StoreID, e.Balance, e.Amount, e.Limit)
}

func invalidTransition(from, attempted Status) error {
	return &InvalidTransitionError{From: from, Attempted: attempted, Allowed: from.AllowedNext()}
}
