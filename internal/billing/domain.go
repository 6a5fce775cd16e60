// Package billing issues invoices when orders complete and reconciles them
// against payments and return credits.
package billing

import (
	"errors"
	"time"
)

// PaymentStatus enumerates invoice payment states.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// IsValid checks membership of the closed status set.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentOverdue:
		return true
	}
	return false
}

// Invoice is the billing record for one completed order. ReturnAmount only
// grows; the collectible amount is what the store still owes.
type Invoice struct {
	ID            int64         `json:"id"`
	Number        string        `json:"number"`
	OrderID       int64         `json:"order_id"`
	StoreID       int64         `json:"store_id"`
	TotalAmount   float64       `json:"total_amount"`
	ReturnAmount  float64       `json:"return_amount"`
	PaidAmount    float64       `json:"paid_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	DueDate       time.Time     `json:"due_date"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Collectible is the outstanding amount after returns and payments.
func (i Invoice) Collectible() float64 {
	return i.TotalAmount - i.ReturnAmount - i.PaidAmount
}

// settledEpsilon absorbs float accumulation noise when deciding whether an
// invoice is fully settled.
const settledEpsilon = 0.005

// Settled reports whether nothing collectible remains.
func (i Invoice) Settled() bool {
	return i.Collectible() <= settledEpsilon
}

// Payment is one recorded payment against an invoice.
type Payment struct {
	ID         int64     `json:"id"`
	InvoiceID  int64     `json:"invoice_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	Note       string    `json:"note,omitempty"`
	RecordedBy int64     `json:"recorded_by"`
	PaidAt     time.Time `json:"paid_at"`
}

// AgingBucket summarises outstanding collectible amounts by days overdue.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}

var (
	// ErrInvoiceNotFound indicates the invoice was not found.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvoicePaid indicates a payment against an already settled invoice.
	ErrInvoicePaid = errors.New("invoice already paid")
	// ErrOverpayment indicates a payment exceeding the collectible amount.
	ErrOverpayment = errors.New("payment exceeds collectible amount")
)
