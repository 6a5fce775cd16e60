package replenishment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/shared"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

type fakeLowStock struct {
	rows map[int64][]stock.LowStockRow
	err  map[int64]error
}

func (f *fakeLowStock) LowStock(ctx context.Context, storeID int64) ([]stock.LowStockRow, error) {
	if err := f.err[storeID]; err != nil {
		return nil, err
	}
	return f.rows[storeID], nil
}

type fakeStores struct {
	stores []masterdata.Store
}

func (f *fakeStores) ListActiveStores(ctx context.Context) ([]masterdata.Store, error) {
	return f.stores, nil
}

type fakeOrderPort struct {
	mu       sync.Mutex
	created  []orders.CreateInput
	drafts   map[int64]orders.Order
	nextID   int64
	fail     bool
	nilDraft bool
}

func (f *fakeOrderPort) Create(ctx context.Context, input orders.CreateInput) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("create failed")
	}
	f.nextID++
	order := orders.Order{
		ID:      f.nextID,
		StoreID: input.StoreID,
		Status:  orders.StatusDraft,
		Source:  input.Source,
	}
	f.created = append(f.created, input)
	if f.drafts == nil {
		f.drafts = make(map[int64]orders.Order)
	}
	f.drafts[input.StoreID] = order
	return &order, nil
}

func (f *fakeOrderPort) FindReplenishmentDraft(ctx context.Context, storeID int64) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nilDraft {
		return nil, nil
	}
	order, ok := f.drafts[storeID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &order, nil
}

func (f *fakeOrderPort) dropDraft(storeID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, storeID)
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func newTestReplenishment(lowStock *fakeLowStock, stores *fakeStores, orderPort *fakeOrderPort) *Service {
	return NewService(lowStock, stores, orderPort, &fakeIdempotency{}, nil, nil, slog.Default())
}

func TestNeedsSuggestsRefillToThreshold(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {
			{StoreID: 1, ProductID: 5, ProductName: "flour", Quantity: 3, Threshold: 10},
			{StoreID: 1, ProductID: 6, ProductName: "salt", Quantity: 9, Threshold: 10},
		},
	}}
	svc := newTestReplenishment(lowStock, &fakeStores{}, &fakeOrderPort{})

	needs, err := svc.Needs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, needs, 2)
	require.Equal(t, int64(7), needs[0].SuggestedQty)
	require.Equal(t, int64(1), needs[1].SuggestedQty)
}

func TestGenerateCreatesDraft(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, Quantity: 3, Threshold: 10}},
	}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)

	result, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, result.Generated)
	require.NotZero(t, result.OrderID)

	require.Len(t, orderPort.created, 1)
	input := orderPort.created[0]
	require.Equal(t, orders.SourceReplenishment, input.Source)
	require.Len(t, input.Items, 1)
	require.Equal(t, int64(7), input.Items[0].Quantity)
}

func TestGenerateNoNeedsIsNoop(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)

	result, err := svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.False(t, result.Generated)
	require.Empty(t, orderPort.created)
}

func TestGenerateSecondRunReturnsExistingDraft(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, Quantity: 3, Threshold: 10}},
	}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)
	ctx := context.Background()

	first, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.Generated)

	second, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, first.OrderID, second.OrderID)
	require.Len(t, orderPort.created, 1)
}

func TestGenerateSecondRunAfterDraftMovedOn(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, Quantity: 3, Threshold: 10}},
	}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)
	ctx := context.Background()

	first, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.Generated)

	// draft submitted and approved in the meantime
	orderPort.dropDraft(1)

	second, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Zero(t, second.OrderID)
	require.Len(t, orderPort.created, 1)
}

func TestGenerateSecondRunToleratesNilDraft(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, Quantity: 3, Threshold: 10}},
	}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)
	ctx := context.Background()

	_, err := svc.Generate(ctx, 1)
	require.NoError(t, err)

	// a port that reports a missing draft as a nil order, not an error
	orderPort.nilDraft = true

	second, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Zero(t, second.OrderID)
}

func TestGenerateReleasesKeyOnCreateFailure(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, Quantity: 3, Threshold: 10}},
	}}
	orderPort := &fakeOrderPort{fail: true}
	svc := newTestReplenishment(lowStock, &fakeStores{}, orderPort)
	ctx := context.Background()

	_, err := svc.Generate(ctx, 1)
	require.Error(t, err)

	// key released, a retry can succeed
	orderPort.fail = false
	result, err := svc.Generate(ctx, 1)
	require.NoError(t, err)
	require.True(t, result.Generated)
}

func TestGenerateAllContinuesPastFailures(t *testing.T) {
	lowStock := &fakeLowStock{
		rows: map[int64][]stock.LowStockRow{
			1: {{StoreID: 1, ProductID: 5, Quantity: 0, Threshold: 5}},
			3: {{StoreID: 3, ProductID: 5, Quantity: 1, Threshold: 5}},
		},
		err: map[int64]error{2: errors.New("ledger unavailable")},
	}
	stores := &fakeStores{stores: []masterdata.Store{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}}
	orderPort := &fakeOrderPort{}
	svc := newTestReplenishment(lowStock, stores, orderPort)

	batch, err := svc.GenerateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Results, 4)
	require.Equal(t, 2, batch.Generated) // stores 1 and 3
	require.Equal(t, 1, batch.Skipped)   // store 4, nothing below threshold
	require.Equal(t, 1, batch.Failed)    // store 2
}
