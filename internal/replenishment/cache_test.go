package replenishment

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/freshline-erp/freshline-erp/internal/stock"
)

func newCacheService(t *testing.T, lowStock *fakeLowStock) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(lowStock, &fakeStores{}, &fakeOrderPort{}, &fakeIdempotency{}, client, nil, slog.Default())
}

func TestCachedNeedsServesSnapshot(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, ProductName: "sourdough", Quantity: 3, Threshold: 10}},
	}}
	svc := newCacheService(t, lowStock)
	ctx := context.Background()

	live, err := svc.Needs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, live, 1)

	// the ledger moves on, but the snapshot keeps serving the old reading
	lowStock.rows[1] = nil

	cached, err := svc.CachedNeeds(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, live, cached)
}

func TestCachedNeedsFallsBackOnMiss(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		2: {{StoreID: 2, ProductID: 6, ProductName: "rye", Quantity: 0, Threshold: 5}},
	}}
	svc := newCacheService(t, lowStock)

	// no snapshot yet; the miss falls through to a live read
	needs, err := svc.CachedNeeds(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, needs, 1)
	require.Equal(t, int64(5), needs[0].SuggestedQty)
}

func TestCachedNeedsSnapshotIsPerStore(t *testing.T) {
	lowStock := &fakeLowStock{rows: map[int64][]stock.LowStockRow{
		1: {{StoreID: 1, ProductID: 5, ProductName: "sourdough", Quantity: 1, Threshold: 4}},
		2: {{StoreID: 2, ProductID: 6, ProductName: "rye", Quantity: 2, Threshold: 8}},
	}}
	svc := newCacheService(t, lowStock)
	ctx := context.Background()

	_, err := svc.Needs(ctx, 1)
	require.NoError(t, err)
	_, err = svc.Needs(ctx, 2)
	require.NoError(t, err)

	one, err := svc.CachedNeeds(ctx, 1)
	require.NoError(t, err)
	two, err := svc.CachedNeeds(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), one[0].ProductID)
	require.Equal(t, int64(6), two[0].ProductID)
}
