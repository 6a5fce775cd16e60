package returns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/delivery"
	"github.com/freshline-erp/freshline-erp/internal/observability"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/shared"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

// DeliveryPort reads the delivery a return is filed against.
type DeliveryPort interface {
	Get(ctx context.Context, id int64) (*delivery.Delivery, error)
}

// OrderPort reads the order behind the delivery, items included.
type OrderPort interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
}

// StockPort credits returned goods back into the store ledger.
type StockPort interface {
	Adjust(ctx context.Context, input stock.AdjustInput) (*stock.AdjustResult, error)
}

// BillingPort locates (or lazily creates) the order invoice and applies the
// return credit.
type BillingPort interface {
	IssueInvoice(ctx context.Context, orderID, storeID int64, amount float64) (int64, error)
	ApplyReturn(ctx context.Context, invoiceID int64, amount float64) (*billing.Invoice, error)
}

// AuditPort records processed batches.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service validates and books return batches.
type Service struct {
	repo       Repository
	deliveries DeliveryPort
	orders     OrderPort
	stock      StockPort
	billing    BillingPort
	audit      AuditPort
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewService wires a returns service.
func NewService(repo Repository, deliveries DeliveryPort, orderPort OrderPort, stockPort StockPort, billingPort BillingPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		deliveries: deliveries,
		orders:     orderPort,
		stock:      stockPort,
		billing:    billingPort,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
	}
}

// ProcessReturns books one batch of returned lines against a delivered
// delivery. Validation is all-or-nothing: a single bad line rejects the
// whole batch with every violation listed, and nothing is written.
func (s *Service) ProcessReturns(ctx context.Context, deliveryID int64, lines []LineInput, returnedBy int64) (*ProcessResult, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyReturn
	}

	d, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != delivery.StatusDelivered {
		return nil, ErrDeliveryNotDelivered
	}

	order, err := s.orders.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	delivered := make(map[int64]orders.OrderItem, len(order.Items))
	for _, item := range order.Items {
		delivered[item.ProductID] = item
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if !line.Reason.IsValid() {
			return nil, ErrInvalidReason
		}
		if _, ok := delivered[line.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %d", ErrProductNotDelivered, line.ProductID)
		}
	}

	// Duplicate products within one batch count against the same cap.
	requested := make(map[int64]int64)
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}

	result := &ProcessResult{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// The delivery row lock serializes concurrent batches; prior
		// quantities read after it include every committed batch, so two
		// submissions cannot jointly exceed the delivered quantity. The
		// invoice adjustment runs in the same closure so a billing failure
		// rolls the inserted rows back with it.
		if err := tx.LockDelivery(ctx, deliveryID); err != nil {
			return err
		}
		already, err := tx.ReturnedQuantities(ctx, deliveryID)
		if err != nil {
			return err
		}
		var violations []OverReturnViolation
		for productID, qty := range requested {
			item := delivered[productID]
			returnable := item.Quantity - already[productID]
			if qty > returnable {
				violations = append(violations, OverReturnViolation{
					ProductID:       productID,
					Delivered:       item.Quantity,
					AlreadyReturned: already[productID],
					Requested:       qty,
					Returnable:      returnable,
				})
			}
		}
		if len(violations) > 0 {
			sort.Slice(violations, func(i, j int) bool { return violations[i].ProductID < violations[j].ProductID })
			return &OverReturnError{Violations: violations}
		}

		for _, line := range lines {
			item := delivered[line.ProductID]
			ret := Return{
				DeliveryID:  deliveryID,
				OrderID:     order.ID,
				StoreID:     order.StoreID,
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
				Reason:      line.Reason,
				ReturnValue: float64(line.Quantity) * item.UnitPrice,
				ReturnedBy:  returnedBy,
			}
			id, err := tx.InsertReturn(ctx, ret)
			if err != nil {
				return err
			}
			ret.ID = id
			result.Returns = append(result.Returns, ret)
			result.ReturnValue += ret.ReturnValue
		}

		invoiceID, err := s.billing.IssueInvoice(ctx, order.ID, order.StoreID, order.FinalAmount)
		if err != nil {
			return err
		}
		result.InvoiceID = invoiceID
		_, err = s.billing.ApplyReturn(ctx, invoiceID, result.ReturnValue)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, ret := range result.Returns {
		_, err := s.stock.Adjust(ctx, stock.AdjustInput{
			StoreID:   ret.StoreID,
			ProductID: ret.ProductID,
			Delta:     ret.Quantity,
			Reason:    stock.ReasonReturn,
			Ref:       fmt.Sprintf("return:%d", ret.ID),
		})
		if err != nil {
			// The return rows are committed; a failed ledger credit is
			// repaired by a manual adjustment, so log loudly and move on.
			s.logger.Error("stock credit failed",
				slog.Int64("return_id", ret.ID),
				slog.Int64("product_id", ret.ProductID),
				slog.Any("error", err))
		}
	}

	if s.metrics != nil {
		s.metrics.ReturnsProcessed.Inc()
	}
	s.recordAudit(ctx, returnedBy, deliveryID, result)
	return result, nil
}

// ListByDelivery returns the immutable return history for a delivery.
func (s *Service) ListByDelivery(ctx context.Context, deliveryID int64) ([]Return, error) {
	return s.repo.ListByDelivery(ctx, deliveryID)
}

// ListByStore returns recent returns for a store, newest first.
func (s *Service) ListByStore(ctx context.Context, storeID int64, limit, offset int) ([]Return, error) {
	return s.repo.ListByStore(ctx, storeID, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actorID, deliveryID int64, result *ProcessResult) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "return:process",
		Entity:   "delivery",
		EntityID: fmt.Sprintf("%d", deliveryID),
		Meta: map[string]any{
			"lines":        len(result.Returns),
			"return_value": result.ReturnValue,
			"invoice_id":   result.InvoiceID,
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Int64("delivery_id", deliveryID), slog.String("error", err.Error()))
	}
}
