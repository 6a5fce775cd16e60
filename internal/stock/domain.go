// Package stock keeps per (store, product) stock as an append-only movement
// journal with a folded balance projection. Balances are never written
// directly; every change goes through a reason-coded movement.
package stock

import (
	"errors"
	"fmt"
	"time"
)

// Reason codes a signed stock movement.
type Reason string

const (
	ReasonManualAdjustment Reason = "manual_adjustment"
	ReasonWastage          Reason = "wastage"
	ReasonReturn           Reason = "return"
	ReasonReplenishment    Reason = "replenishment_consumption"
)

// IsValid checks membership of the closed reason set.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonManualAdjustment, ReasonWastage, ReasonReturn, ReasonReplenishment:
		return true
	}
	return false
}

// Movement is one immutable journal entry.
type Movement struct {
	ID        int64     `json:"id"`
	StoreID   int64     `json:"store_id"`
	ProductID int64     `json:"product_id"`
	Delta     int64     `json:"delta"`
	Reason    Reason    `json:"reason"`
	ActorID   int64     `json:"actor_id"`
	Ref       string    `json:"ref,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

// Balance is the folded projection of all movements for one (store, product)
// pair. Threshold, when set, overrides the product min_stock_level for
// low-stock detection at this store.
type Balance struct {
	StoreID   int64     `json:"store_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	Threshold *int64    `json:"threshold,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LowStockRow is one product under its effective threshold at a store.
type LowStockRow struct {
	StoreID     int64  `json:"store_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	Threshold   int64  `json:"threshold"`
}

var (
	// ErrInvalidReason indicates a reason outside the closed set.
	ErrInvalidReason = errors.New("invalid movement reason")
	// ErrZeroDelta indicates a movement that would change nothing.
	ErrZeroDelta = errors.New("movement delta must be non-zero")
	// ErrInvalidThreshold indicates a negative threshold.
	ErrInvalidThreshold = errors.New("threshold must not be negative")
)

// InsufficientStockError reports a checked adjustment that would drive the
// balance below zero.
type InsufficientStockError struct {
	StoreID   int64
	ProductID int64
	Current   int64
	Delta     int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: balance %d for store %d product %d cannot absorb delta %d",
		e.Current, e.StoreID, e.ProductID, e.Delta)
}
