package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshline-erp/freshline-erp/internal/shared"
)

// StorePort settles the store running balance as invoices are issued and
// paid.
type StorePort interface {
	AdjustStoreBalance(ctx context.Context, id int64, delta float64) (float64, error)
}

// AuditPort records billing events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service issues and reconciles invoices.
type Service struct {
	repo    Repository
	stores  StorePort
	audit   AuditPort
	logger  *slog.Logger
	dueDays int
}

// NewService wires a billing service. dueDays sets the payment term applied
// to new invoices.
func NewService(repo Repository, stores StorePort, audit AuditPort, logger *slog.Logger, dueDays int) *Service {
	if dueDays <= 0 {
		dueDays = 14
	}
	return &Service{repo: repo, stores: stores, audit: audit, logger: logger, dueDays: dueDays}
}

// IssueInvoice creates the invoice for a completed order and debits the
// store balance. Calling it again for the same order returns the existing
// invoice id, so lazy creation from the returns path is safe.
func (s *Service) IssueInvoice(ctx context.Context, orderID, storeID int64, amount float64) (int64, error) {
	existing, err := s.repo.GetInvoiceByOrder(ctx, orderID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return 0, err
	}
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	now := time.Now().UTC()
	number, err := s.repo.GenerateNumber(ctx, now)
	if err != nil {
		return 0, err
	}
	inv := Invoice{
		Number:        number,
		OrderID:       orderID,
		StoreID:       storeID,
		TotalAmount:   amount,
		PaymentStatus: PaymentPending,
		DueDate:       now.AddDate(0, 0, s.dueDays),
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		createdID, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		id = createdID
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.stores.AdjustStoreBalance(ctx, storeID, amount); err != nil {
		s.logger.Warn("store balance debit failed",
			slog.Int64("store_id", storeID), slog.Int64("invoice_id", id), slog.Any("error", err))
	}
	s.recordAudit(ctx, "invoice:issue", id, map[string]any{"order_id": orderID, "amount": amount})
	return id, nil
}

// ApplyReturn accumulates a return credit on the invoice and recomputes the
// payment status. The return amount only ever grows, and the credit is
// capped at the remaining balance so the collectible amount never drops
// below zero. Return lines valued above a discounted invoice total settle
// it; the excess is not carried.
func (s *Service) ApplyReturn(ctx context.Context, invoiceID int64, amount float64) (*Invoice, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		credit := amount
		if headroom := inv.TotalAmount - inv.PaidAmount - inv.ReturnAmount; credit > headroom {
			credit = headroom
		}
		if credit < 0 {
			credit = 0
		}
		inv.ReturnAmount += credit
		return tx.UpdateAmounts(ctx, invoiceID, inv.ReturnAmount, inv.PaidAmount, s.statusFor(*inv))
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "invoice:return", invoiceID, map[string]any{"amount": amount})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// RecordPayment registers a payment, closes the invoice when the collectible
// amount reaches zero, and settles the store balance.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount float64, method, note string, recordedBy int64) (*Invoice, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var storeID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Settled() {
			return ErrInvoicePaid
		}
		if amount > inv.Collectible()+settledEpsilon {
			return ErrOverpayment
		}
		storeID = inv.StoreID
		if _, err := tx.InsertPayment(ctx, Payment{
			InvoiceID:  invoiceID,
			Amount:     amount,
			Method:     method,
			Note:       note,
			RecordedBy: recordedBy,
			PaidAt:     time.Now().UTC(),
		}); err != nil {
			return err
		}
		inv.PaidAmount += amount
		return tx.UpdateAmounts(ctx, invoiceID, inv.ReturnAmount, inv.PaidAmount, s.statusFor(*inv))
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.stores.AdjustStoreBalance(ctx, storeID, -amount); err != nil {
		s.logger.Warn("store balance settle failed",
			slog.Int64("store_id", storeID), slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
	}
	s.recordAudit(ctx, "invoice:payment", invoiceID, map[string]any{"amount": amount, "method": method})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// statusFor recomputes the payment status from the invoice amounts and due
// date.
func (s *Service) statusFor(inv Invoice) PaymentStatus {
	if inv.Settled() {
		return PaymentPaid
	}
	if time.Now().After(inv.DueDate) {
		return PaymentOverdue
	}
	return PaymentPending
}

// GetInvoice returns one invoice by id.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetInvoiceByOrder returns the invoice attached to an order.
func (s *Service) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	return s.repo.GetInvoiceByOrder(ctx, orderID)
}

// ListInvoices returns a filtered page of invoices.
func (s *Service) ListInvoices(ctx context.Context, storeID int64, status PaymentStatus, limit, offset int) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, storeID, status, limit, offset)
}

// ListPayments returns the payments recorded against an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// ListOutstanding returns every invoice still carrying a collectible amount.
func (s *Service) ListOutstanding(ctx context.Context) ([]Invoice, error) {
	return s.repo.ListOutstanding(ctx)
}

// CalculateAging groups outstanding collectible amounts by days past due.
func (s *Service) CalculateAging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	invoices, err := s.repo.ListOutstanding(ctx)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}
	var bucket AgingBucket
	for _, inv := range invoices {
		if inv.Settled() {
			continue
		}
		amount := inv.Collectible()
		days := int(asOf.Sub(inv.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current += amount
		case days <= 30:
			bucket.Bucket30 += amount
		case days <= 60:
			bucket.Bucket60 += amount
		case days <= 90:
			bucket.Bucket90 += amount
		default:
			bucket.Bucket120 += amount
		}
	}
	return bucket, nil
}

// SweepOverdue flips pending invoices past their due date to overdue.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	var count int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.MarkOverdue(ctx, asOf)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("overdue sweep", slog.Int64("flipped", count))
	}
	return count, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("invoice_id", invoiceID), slog.String("error", err.Error()))
	}
}
