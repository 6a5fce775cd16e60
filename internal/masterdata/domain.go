// Package masterdata holds stores and products, the reference data every
// core flow reads through.
package masterdata

import (
	"errors"
	"time"
)

// Store is a wholesale customer location. CurrentBalance is signed; a
// positive balance means the store owes money.
type Store struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	CreditLimit    *float64   `json:"credit_limit,omitempty"`
	CurrentBalance float64    `json:"current_balance"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExceedsCredit reports whether adding amount to the outstanding balance
// would breach the store's credit limit. A nil limit means uncapped; a
// stored zero is kept as uncapped too, for legacy rows that used zero as
// the sentinel.
func (s Store) ExceedsCredit(amount float64) bool {
	if s.CreditLimit == nil || *s.CreditLimit <= 0 {
		return false
	}
	return s.CurrentBalance+amount > *s.CreditLimit
}

// Product is a sellable item with one base price. MinStockLevel is the
// default replenishment threshold for stores without an explicit one.
type Product struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	MinStockLevel int64     `json:"min_stock_level"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Domain errors.
var (
	ErrStoreNotFound   = errors.New("store not found")
	ErrProductNotFound = errors.New("product not found")
	ErrDuplicateSKU    = errors.New("sku already in use")
	ErrInvalidPrice    = errors.New("price must be greater than zero")
	ErrInvalidLimit    = errors.New("credit limit must not be negative")
	ErrInvalidMinStock = errors.New("minimum stock level must not be negative")
)

// CreateStoreInput describes a new store.
type CreateStoreInput struct {
	Code        string
	Name        string
	CreditLimit *float64
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	SKU           string
	Name          string
	Price         float64
	MinStockLevel int64
}

// UpdateProductInput carries optional field updates.
type UpdateProductInput struct {
	Name          *string
	Price         *float64
	MinStockLevel *int64
	Active        *bool
}

// UpdateStoreInput carries optional field updates.
type UpdateStoreInput struct {
	Name        *string
	CreditLimit *float64
	ClearLimit  bool
	Active      *bool
}
