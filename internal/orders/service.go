package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/shared"
)

// StorePort exposes the store lookups the order flow needs.
type StorePort interface {
	GetStore(ctx context.Context, id int64) (masterdata.Store, error)
}

// CatalogPort exposes product lookups for price snapshots and checks.
type CatalogPort interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]masterdata.Product, error)
}

// BillingPort issues the invoice when an order completes.
type BillingPort interface {
	IssueInvoice(ctx context.Context, orderID, storeID int64, amount float64) (int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides business logic for orders.
type Service struct {
	repo    Repository
	stores  StorePort
	catalog CatalogPort
	billing BillingPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, stores StorePort, catalog CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, stores: stores, catalog: catalog, audit: audit, logger: logger}
}

// SetBilling wires the invoicing collaborator.
func (s *Service) SetBilling(billing BillingPort) {
	s.billing = billing
}

// CreateInput describes a new order.
type CreateInput struct {
	StoreID        int64
	Items          []ItemInput
	DiscountAmount float64
	Notes          *string
	Source         Source
	CreatedBy      int64
}

// Create places a new order in draft.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Order, error) {
	store, err := s.stores.GetStore(ctx, input.StoreID)
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	if !store.Active {
		return nil, ErrInactiveStore
	}
	if len(input.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	items, err := s.snapshotItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	totals := totalsFromItems(items, input.DiscountAmount)

	source := input.Source
	if source == "" {
		source = SourceManual
	}
	number, err := s.repo.GenerateNumber(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("generate number: %w", err)
	}

	order := Order{
		Number:         number,
		StoreID:        input.StoreID,
		Status:         StatusDraft,
		Source:         source,
		TotalAmount:    totals.Subtotal,
		DiscountAmount: totals.Discount,
		FinalAmount:    totals.Final,
		Notes:          input.Notes,
		CreatedBy:      input.CreatedBy,
	}

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderID = id
		for _, item := range items {
			item.OrderID = orderID
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.CreatedBy, "order:create", orderID, map[string]any{"number": number, "source": source})
	return s.repo.Get(ctx, orderID)
}

// snapshotItems validates requested lines and freezes unit prices at the
// current catalogue price.
func (s *Service) snapshotItems(ctx context.Context, inputs []ItemInput) ([]OrderItem, error) {
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, in.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	items := make([]OrderItem, 0, len(inputs))
	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", in.ProductID, masterdata.ErrProductNotFound)
		}
		if !product.Active {
			return nil, fmt.Errorf("product %d: %w", in.ProductID, ErrInactiveProduct)
		}
		items = append(items, OrderItem{
			ProductID:  in.ProductID,
			Quantity:   in.Quantity,
			UnitPrice:  product.Price,
			TotalPrice: float64(in.Quantity) * product.Price,
		})
	}
	return items, nil
}

// Get retrieves one order.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of orders.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	return s.repo.List(ctx, req)
}

// FindReplenishmentDraft exposes the open replenishment draft for a store.
// ErrNotFound means the store has no open draft.
func (s *Service) FindReplenishmentDraft(ctx context.Context, storeID int64) (*Order, error) {
	return s.repo.FindReplenishmentDraft(ctx, storeID)
}

// Submit moves a draft order into the pending review queue.
func (s *Service) Submit(ctx context.Context, id int64) (*Order, error) {
	return s.transition(ctx, id, StatusPending, []Status{StatusDraft}, nil)
}

// Approve runs the credit check and, in the same transaction as the status
// flip, creates the kitchen sheet and the delivery record. Either everything
// commits or the order stays untouched.
func (s *Service) Approve(ctx context.Context, id int64, approvedBy int64) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(StatusApproved) {
		return nil, invalidTransition(order.Status, StatusApproved)
	}

	store, err := s.stores.GetStore(ctx, order.StoreID)
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	if store.ExceedsCredit(order.FinalAmount) {
		return nil, &CreditLimitExceededError{
			StoreID: store.ID,
			Limit:   *store.CreditLimit,
			Balance: store.CurrentBalance,
			Amount:  order.FinalAmount,
		}
	}
	if !store.Active {
		return nil, ErrInactiveStore
	}
	if len(order.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	ids := make([]int64, len(order.Items))
	for i, item := range order.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids[i] = item.ProductID
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	for _, item := range order.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, masterdata.ErrProductNotFound)
		}
		if !product.Active {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, ErrInactiveProduct)
		}
	}

	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateStatus(ctx, id, StatusApproved, []Status{StatusDraft, StatusPending}, map[string]interface{}{
			"approved_by": approvedBy,
			"approved_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			// Someone else moved the order between our read and this
			// conditional update.
			return invalidTransition(order.Status, StatusApproved)
		}

		lines := make([]KitchenLine, len(order.Items))
		for i, item := range order.Items {
			lines[i] = KitchenLine{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		if _, err := tx.CreateKitchenSheet(ctx, id, lines); err != nil {
			return fmt.Errorf("create kitchen sheet: %w", err)
		}
		if _, err := tx.CreateDelivery(ctx, id, order.StoreID, now.Add(24*time.Hour)); err != nil {
			return fmt.Errorf("create delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, approvedBy, "order:approve", id, map[string]any{"number": order.Number, "final_amount": order.FinalAmount})
	return s.repo.Get(ctx, id)
}

// Reject declines a draft or pending order with a structured note.
func (s *Service) Reject(ctx context.Context, id int64, reason string, actorID int64) (*Order, error) {
	note := fmt.Sprintf("rejected by %d: %s", actorID, reason)
	order, err := s.transition(ctx, id, StatusRejected, []Status{StatusDraft, StatusPending}, map[string]interface{}{
		"reject_reason": note,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "order:reject", id, map[string]any{"reason": reason})
	return order, nil
}

// Cancel aborts any non-terminal order except a completed one.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (*Order, error) {
	order, err := s.transition(ctx, id, StatusCancelled, []Status{StatusDraft, StatusPending, StatusApproved}, nil)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "order:cancel", id, nil)
	return order, nil
}

// Complete closes an approved order and issues the invoice.
func (s *Service) Complete(ctx context.Context, id int64, actorID int64) (*Order, error) {
	now := time.Now().UTC()
	order, err := s.transition(ctx, id, StatusCompleted, []Status{StatusApproved}, map[string]interface{}{
		"completed_at": now,
	})
	if err != nil {
		return nil, err
	}
	if s.billing != nil {
		if _, err := s.billing.IssueInvoice(ctx, order.ID, order.StoreID, order.FinalAmount); err != nil {
			// Invoice issuance is recoverable: the returns pipeline and the
			// reminder sweep create it lazily when missing.
			s.logger.Warn("issue invoice failed", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, actorID, "order:complete", id, map[string]any{"final_amount": order.FinalAmount})
	return order, nil
}

func (s *Service) transition(ctx context.Context, id int64, next Status, from []Status, updates map[string]interface{}) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(next) {
		return nil, invalidTransition(order.Status, next)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateStatus(ctx, id, next, from, updates)
		if err != nil {
			return err
		}
		if !ok {
			return invalidTransition(order.Status, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// ReplaceItems swaps every line of an editable order and reprices it.
func (s *Service) ReplaceItems(ctx context.Context, id int64, inputs []ItemInput) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, ErrNotEditable
	}
	if len(inputs) == 0 {
		return nil, ErrEmptyOrder
	}
	items, err := s.snapshotItems(ctx, inputs)
	if err != nil {
		return nil, err
	}
	totals := totalsFromItems(items, order.DiscountAmount)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		for _, item := range items {
			item.OrderID = id
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		return tx.UpdateTotals(ctx, id, totals)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// AddItem appends one line to an editable order and reprices it.
func (s *Service) AddItem(ctx context.Context, id int64, input ItemInput) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, ErrNotEditable
	}
	items, err := s.snapshotItems(ctx, []ItemInput{input})
	if err != nil {
		return nil, err
	}
	merged := append(append([]OrderItem{}, order.Items...), items...)
	totals := totalsFromItems(merged, order.DiscountAmount)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item := items[0]
		item.OrderID = id
		if _, err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return tx.UpdateTotals(ctx, id, totals)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// RemoveItem drops one product line and reprices the order.
func (s *Service) RemoveItem(ctx context.Context, id, productID int64) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, ErrNotEditable
	}
	remaining := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ProductID != productID {
			remaining = append(remaining, item)
		}
	}
	if len(remaining) == len(order.Items) {
		return nil, fmt.Errorf("product %d: %w", productID, masterdata.ErrProductNotFound)
	}
	totals := totalsFromItems(remaining, order.DiscountAmount)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.DeleteItem(ctx, id, productID); err != nil {
			return err
		}
		return tx.UpdateTotals(ctx, id, totals)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// SetDiscount changes the discount on an editable order and reprices it.
func (s *Service) SetDiscount(ctx context.Context, id int64, amount float64) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, ErrNotEditable
	}
	if amount < 0 {
		return nil, ErrInvalidDiscount
	}
	totals := totalsFromItems(order.Items, amount)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateTotals(ctx, id, totals)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	})
}
