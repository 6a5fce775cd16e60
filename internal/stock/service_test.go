package stock

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pair struct {
	store, product int64
}

type memoryStockRepo struct {
	balances  map[pair]int64
	movements []Movement
	nextID    int64
}

type memoryStockTx struct {
	repo *memoryStockRepo
	// staged writes so a failed checked adjustment rolls back
	staged   map[pair]int64
	inserted []Movement
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{balances: make(map[pair]int64)}
}

func (r *memoryStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryStockTx{repo: r, staged: make(map[pair]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		r.balances[k] = v
	}
	r.movements = append(r.movements, tx.inserted...)
	return nil
}

func (r *memoryStockRepo) GetBalance(ctx context.Context, storeID, productID int64) (int64, error) {
	return r.balances[pair{storeID, productID}], nil
}

func (r *memoryStockRepo) ListBalances(ctx context.Context, storeID int64) ([]Balance, error) {
	var out []Balance
	for k, qty := range r.balances {
		if k.store != storeID {
			continue
		}
		out = append(out, Balance{StoreID: k.store, ProductID: k.product, Quantity: qty})
	}
	return out, nil
}

func (r *memoryStockRepo) ListMovements(ctx context.Context, storeID, productID int64, limit, offset int) ([]Movement, error) {
	var out []Movement
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if m.StoreID == storeID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryStockRepo) LowStock(ctx context.Context, storeID int64) ([]LowStockRow, error) {
	return nil, nil
}

func (r *memoryStockRepo) SetThreshold(ctx context.Context, storeID, productID int64, threshold *int64) error {
	return nil
}

func (tx *memoryStockTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.PostedAt = time.Now()
	tx.inserted = append(tx.inserted, m)
	return m.ID, nil
}

func (tx *memoryStockTx) ApplyDelta(ctx context.Context, storeID, productID, delta int64) (int64, error) {
	key := pair{storeID, productID}
	current, staged := tx.staged[key]
	if !staged {
		current = tx.repo.balances[key]
	}
	next := current + delta
	tx.staged[key] = next
	return next, nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, nil, nil, slog.Default(), true)
}

func TestAdjustCreatesBalanceAtZero(t *testing.T) {
	repo := newMemoryStockRepo()
	svc := newTestService(repo)

	result, err := svc.Adjust(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: 10, Reason: ReasonManualAdjustment,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), result.Balance)
	require.Equal(t, int64(10), result.Movement.Delta)
	require.Len(t, repo.movements, 1)
}

func TestAdjustRejectsUnknownReason(t *testing.T) {
	svc := newTestService(newMemoryStockRepo())

	_, err := svc.Adjust(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: 5, Reason: Reason("theft"),
	})
	require.ErrorIs(t, err, ErrInvalidReason)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	svc := newTestService(newMemoryStockRepo())

	_, err := svc.Adjust(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: 0, Reason: ReasonWastage,
	})
	require.ErrorIs(t, err, ErrZeroDelta)
}

func TestManualAdjustmentMayGoNegative(t *testing.T) {
	svc := newTestService(newMemoryStockRepo())

	result, err := svc.Adjust(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: -4, Reason: ReasonManualAdjustment,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-4), result.Balance)
}

func TestNegativeStockDisallowedByConfig(t *testing.T) {
	repo := newMemoryStockRepo()
	svc := NewService(repo, nil, nil, slog.Default(), false)

	_, err := svc.Adjust(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: -4, Reason: ReasonManualAdjustment,
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
}

func TestCheckedAdjustmentRefusesNegative(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.balances[pair{1, 2}] = 3
	svc := newTestService(repo)

	_, err := svc.AdjustChecked(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: -5, Reason: ReasonReplenishment,
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(3), insufficient.Current)
	require.Equal(t, int64(-5), insufficient.Delta)

	// nothing committed
	require.Equal(t, int64(3), repo.balances[pair{1, 2}])
	require.Empty(t, repo.movements)
}

func TestCheckedAdjustmentAllowsExactDrain(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.balances[pair{1, 2}] = 5
	svc := newTestService(repo)

	result, err := svc.AdjustChecked(context.Background(), AdjustInput{
		StoreID: 1, ProductID: 2, Delta: -5, Reason: ReasonReplenishment,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Balance)
}

func TestBalanceIsFoldOfMovements(t *testing.T) {
	repo := newMemoryStockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	for _, delta := range []int64{10, -3, 7, -1} {
		_, err := svc.Adjust(ctx, AdjustInput{
			StoreID: 1, ProductID: 2, Delta: delta, Reason: ReasonManualAdjustment,
		})
		require.NoError(t, err)
	}

	balance, err := svc.Balance(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(13), balance)

	history, err := svc.History(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)

	var sum int64
	for _, m := range history {
		sum += m.Delta
	}
	require.Equal(t, balance, sum)
}

func TestSetThresholdValidation(t *testing.T) {
	svc := newTestService(newMemoryStockRepo())

	bad := int64(-1)
	require.ErrorIs(t, svc.SetThreshold(context.Background(), 1, 2, &bad), ErrInvalidThreshold)

	ok := int64(10)
	require.NoError(t, svc.SetThreshold(context.Background(), 1, 2, &ok))
	require.NoError(t, svc.SetThreshold(context.Background(), 1, 2, nil))
}
