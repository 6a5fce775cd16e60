// Package replenishment turns low-stock readings into draft orders. Drafts
// go through the normal approval path; nothing here ever approves.
package replenishment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/observability"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/shared"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

// Need is one product under threshold with its suggested order quantity.
type Need struct {
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	CurrentStock int64  `json:"current_stock"`
	Threshold    int64  `json:"threshold"`
	SuggestedQty int64  `json:"suggested_qty"`
}

// GenerateResult is the outcome for one store.
type GenerateResult struct {
	StoreID   int64  `json:"store_id"`
	OrderID   int64  `json:"order_id,omitempty"`
	Generated bool   `json:"generated"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// BatchResult aggregates a generate-all run.
type BatchResult struct {
	Results   []GenerateResult `json:"results"`
	Generated int              `json:"generated"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
}

// StockPort reads low-stock rows.
type StockPort interface {
	LowStock(ctx context.Context, storeID int64) ([]stock.LowStockRow, error)
}

// StorePort lists the stores a batch run covers.
type StorePort interface {
	ListActiveStores(ctx context.Context) ([]masterdata.Store, error)
}

// OrderPort creates drafts and finds the open one for a store.
// FindReplenishmentDraft returns orders.ErrNotFound when no open draft
// exists.
type OrderPort interface {
	Create(ctx context.Context, input orders.CreateInput) (*orders.Order, error)
	FindReplenishmentDraft(ctx context.Context, storeID int64) (*orders.Order, error)
}

// IdempotencyPort guards one generation per store and window.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// batchParallelism bounds concurrent per-store generations in GenerateAll.
const batchParallelism = 4

// needsCacheTTL bounds how stale the advisory needs snapshot may get.
const needsCacheTTL = 5 * time.Minute

// Service generates replenishment drafts.
type Service struct {
	stock       StockPort
	stores      StorePort
	orders      OrderPort
	idempotency IdempotencyPort
	cache       *redis.Client
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewService wires a replenishment service. cache may be nil; the needs
// snapshot is advisory only.
func NewService(stockPort StockPort, storePort StorePort, orderPort OrderPort, idempotency IdempotencyPort, cache *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		stock:       stockPort,
		stores:      storePort,
		orders:      orderPort,
		idempotency: idempotency,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
	}
}

// Needs lists products under their effective threshold at a store. The
// suggested quantity refills to the threshold, never less than one.
func (s *Service) Needs(ctx context.Context, storeID int64) ([]Need, error) {
	rows, err := s.stock.LowStock(ctx, storeID)
	if err != nil {
		return nil, err
	}
	needs := make([]Need, 0, len(rows))
	for _, row := range rows {
		suggested := row.Threshold - row.Quantity
		if suggested < 1 {
			suggested = 1
		}
		needs = append(needs, Need{
			ProductID:    row.ProductID,
			ProductName:  row.ProductName,
			CurrentStock: row.Quantity,
			Threshold:    row.Threshold,
			SuggestedQty: suggested,
		})
	}
	s.snapshotNeeds(ctx, storeID, needs)
	return needs, nil
}

// CachedNeeds returns the last snapshot taken for a store, falling back to a
// live read when the cache misses or is unavailable.
func (s *Service) CachedNeeds(ctx context.Context, storeID int64) ([]Need, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, needsCacheKey(storeID)).Bytes()
		if err == nil {
			var needs []Need
			if err := json.Unmarshal(raw, &needs); err == nil {
				return needs, nil
			}
		}
	}
	return s.Needs(ctx, storeID)
}

// Generate creates one replenishment draft for a store. Empty needs are a
// no-op; a second run inside the same window returns the existing draft.
func (s *Service) Generate(ctx context.Context, storeID int64) (*GenerateResult, error) {
	needs, err := s.Needs(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if len(needs) == 0 {
		return &GenerateResult{StoreID: storeID, Skipped: true, Reason: "no products below threshold"}, nil
	}

	key := generationKey(storeID, time.Now().UTC())
	if err := s.idempotency.CheckAndInsert(ctx, key, "replenishment"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			existing, err := s.orders.FindReplenishmentDraft(ctx, storeID)
			if err != nil {
				if errors.Is(err, orders.ErrNotFound) {
					// the window's draft moved on through the order flow
					return &GenerateResult{StoreID: storeID, Skipped: true, Reason: "already generated this window"}, nil
				}
				return nil, err
			}
			if existing == nil {
				return &GenerateResult{StoreID: storeID, Skipped: true, Reason: "already generated this window"}, nil
			}
			return &GenerateResult{StoreID: storeID, OrderID: existing.ID, Skipped: true, Reason: "already generated this window"}, nil
		}
		return nil, err
	}

	items := make([]orders.ItemInput, len(needs))
	for i, need := range needs {
		items[i] = orders.ItemInput{ProductID: need.ProductID, Quantity: need.SuggestedQty}
	}
	notes := fmt.Sprintf("auto replenishment %s", time.Now().UTC().Format("2006-01-02"))
	order, err := s.orders.Create(ctx, orders.CreateInput{
		StoreID: storeID,
		Items:   items,
		Notes:   &notes,
		Source:  orders.SourceReplenishment,
	})
	if err != nil {
		// release the key so a later run can retry the window
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Warn("idempotency rollback failed", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReplenishmentsDrafts.Inc()
	}
	s.logger.Info("replenishment draft generated",
		slog.Int64("store_id", storeID),
		slog.Int64("order_id", order.ID),
		slog.Int("lines", len(items)))
	return &GenerateResult{StoreID: storeID, OrderID: order.ID, Generated: true}, nil
}

// GenerateAll runs Generate for every active store with bounded parallelism.
// One store failing never stops the run; failures land in the result with
// their reason.
func (s *Service) GenerateAll(ctx context.Context) (*BatchResult, error) {
	stores, err := s.stores.ListActiveStores(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]GenerateResult, len(stores))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for i, store := range stores {
		i, store := i, store
		g.Go(func() error {
			result, err := s.Generate(gctx, store.ID)
			if err != nil {
				s.logger.Error("replenishment generation failed",
					slog.Int64("store_id", store.ID), slog.Any("error", err))
				results[i] = GenerateResult{StoreID: store.ID, Reason: err.Error()}
				return nil
			}
			results[i] = *result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &BatchResult{Results: results}
	for _, r := range results {
		switch {
		case r.Generated:
			batch.Generated++
		case r.Skipped:
			batch.Skipped++
		default:
			batch.Failed++
		}
	}
	return batch, nil
}

// generationKey builds the per-store window key; the window is the UTC day.
func generationKey(storeID int64, now time.Time) string {
	return fmt.Sprintf("replenish:%d:%s", storeID, now.Format("2006-01-02"))
}

func needsCacheKey(storeID int64) string {
	return fmt.Sprintf("replenish:needs:%d", storeID)
}

func (s *Service) snapshotNeeds(ctx context.Context, storeID int64, needs []Need) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(needs)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, needsCacheKey(storeID), raw, needsCacheTTL).Err(); err != nil {
		s.logger.Debug("needs snapshot write failed", slog.Int64("store_id", storeID), slog.Any("error", err))
	}
}
