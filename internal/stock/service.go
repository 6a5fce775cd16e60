package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/freshline-erp/freshline-erp/internal/observability"
	"github.com/freshline-erp/freshline-erp/internal/shared"
)

// AuditPort records ledger postings.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts movements and serves ledger queries.
type Service struct {
	repo          Repository
	audit         AuditPort
	metrics       *observability.Metrics
	logger        *slog.Logger
	allowNegative bool
}

// NewService wires a stock service. allowNegative lets manual adjustments
// drive a balance below zero; automated consumption never may.
func NewService(repo Repository, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger, allowNegative bool) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, allowNegative: allowNegative}
}

// AdjustInput describes one movement to post.
type AdjustInput struct {
	StoreID   int64
	ProductID int64
	Delta     int64
	Reason    Reason
	Ref       string
}

// AdjustResult is the posted movement plus the new balance.
type AdjustResult struct {
	Movement Movement `json:"movement"`
	Balance  int64    `json:"balance"`
}

// Adjust posts a movement. Whether the balance may go negative follows the
// service-wide setting; automated paths go through AdjustChecked instead.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (*AdjustResult, error) {
	return s.post(ctx, input, !s.allowNegative)
}

// AdjustChecked posts a movement but refuses to take the balance below zero.
func (s *Service) AdjustChecked(ctx context.Context, input AdjustInput) (*AdjustResult, error) {
	return s.post(ctx, input, true)
}

func (s *Service) post(ctx context.Context, input AdjustInput, checked bool) (*AdjustResult, error) {
	if !input.Reason.IsValid() {
		return nil, ErrInvalidReason
	}
	if input.Delta == 0 {
		return nil, ErrZeroDelta
	}
	movement := Movement{
		StoreID:   input.StoreID,
		ProductID: input.ProductID,
		Delta:     input.Delta,
		Reason:    input.Reason,
		ActorID:   shared.ActorFromContext(ctx),
		Ref:       input.Ref,
	}
	var balance int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		qty, err := tx.ApplyDelta(ctx, input.StoreID, input.ProductID, input.Delta)
		if err != nil {
			return err
		}
		if checked && qty < 0 {
			return &InsufficientStockError{
				StoreID:   input.StoreID,
				ProductID: input.ProductID,
				Current:   qty - input.Delta,
				Delta:     input.Delta,
			}
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		balance = qty
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.StockMovements.WithLabelValues(string(input.Reason)).Inc()
	}
	s.recordAudit(ctx, movement, balance)
	return &AdjustResult{Movement: movement, Balance: balance}, nil
}

// Balance returns the current quantity for one pair, zero when unseen.
func (s *Service) Balance(ctx context.Context, storeID, productID int64) (int64, error) {
	return s.repo.GetBalance(ctx, storeID, productID)
}

// Balances lists the balance projection for a store.
func (s *Service) Balances(ctx context.Context, storeID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, storeID)
}

// History returns the movement journal for one pair, newest first.
func (s *Service) History(ctx context.Context, storeID, productID int64, limit, offset int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, storeID, productID, limit, offset)
}

// LowStock lists products under their effective threshold at a store.
func (s *Service) LowStock(ctx context.Context, storeID int64) ([]LowStockRow, error) {
	return s.repo.LowStock(ctx, storeID)
}

// SetThreshold sets or clears the per-store low-stock override.
func (s *Service) SetThreshold(ctx context.Context, storeID, productID int64, threshold *int64) error {
	if threshold != nil && *threshold < 0 {
		return ErrInvalidThreshold
	}
	return s.repo.SetThreshold(ctx, storeID, productID, threshold)
}

func (s *Service) recordAudit(ctx context.Context, m Movement, balance int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  m.ActorID,
		Action:   "stock:adjust",
		Entity:   "stock",
		EntityID: fmt.Sprintf("%d:%d", m.StoreID, m.ProductID),
		Meta: map[string]any{
			"delta":   m.Delta,
			"reason":  string(m.Reason),
			"ref":     m.Ref,
			"balance": balance,
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed",
			slog.Int64("store_id", m.StoreID),
			slog.Int64("product_id", m.ProductID),
			slog.String("error", err.Error()))
	}
}
