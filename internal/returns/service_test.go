package returns

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/delivery"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

type memoryReturnsRepo struct {
	mu      sync.Mutex
	locks   map[int64]*sync.Mutex
	returns []Return
	nextID  int64
}

type memoryReturnsTx struct {
	repo     *memoryReturnsRepo
	locked   []*sync.Mutex
	inserted []Return
}

func (r *memoryReturnsRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryReturnsTx{repo: r}
	defer func() {
		for _, l := range tx.locked {
			l.Unlock()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	r.returns = append(r.returns, tx.inserted...)
	r.mu.Unlock()
	return nil
}

func (r *memoryReturnsRepo) ListByDelivery(ctx context.Context, deliveryID int64) ([]Return, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Return
	for _, ret := range r.returns {
		if ret.DeliveryID == deliveryID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (r *memoryReturnsRepo) ListByStore(ctx context.Context, storeID int64, limit, offset int) ([]Return, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Return
	for _, ret := range r.returns {
		if ret.StoreID == storeID {
			out = append(out, ret)
		}
	}
	return out, nil
}

// LockDelivery blocks until any other in-flight batch for the delivery has
// finished, mirroring the row lock the SQL repository takes.
func (tx *memoryReturnsTx) LockDelivery(ctx context.Context, deliveryID int64) error {
	tx.repo.mu.Lock()
	if tx.repo.locks == nil {
		tx.repo.locks = make(map[int64]*sync.Mutex)
	}
	l, ok := tx.repo.locks[deliveryID]
	if !ok {
		l = &sync.Mutex{}
		tx.repo.locks[deliveryID] = l
	}
	tx.repo.mu.Unlock()
	l.Lock()
	tx.locked = append(tx.locked, l)
	return nil
}

func (tx *memoryReturnsTx) ReturnedQuantities(ctx context.Context, deliveryID int64) (map[int64]int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	out := make(map[int64]int64)
	for _, ret := range tx.repo.returns {
		if ret.DeliveryID == deliveryID {
			out[ret.ProductID] += ret.Quantity
		}
	}
	for _, ret := range tx.inserted {
		if ret.DeliveryID == deliveryID {
			out[ret.ProductID] += ret.Quantity
		}
	}
	return out, nil
}

func (tx *memoryReturnsTx) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	ret.ID = tx.repo.nextID
	tx.inserted = append(tx.inserted, ret)
	return ret.ID, nil
}

type fakeDeliveries struct {
	deliveries map[int64]delivery.Delivery
}

func (f *fakeDeliveries) Get(ctx context.Context, id int64) (*delivery.Delivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &d, nil
}

type fakeOrders struct {
	orders map[int64]orders.Order
}

func (f *fakeOrders) Get(ctx context.Context, id int64) (*orders.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

type fakeStock struct {
	mu      sync.Mutex
	credits []stock.AdjustInput
}

func (f *fakeStock) Adjust(ctx context.Context, input stock.AdjustInput) (*stock.AdjustResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits = append(f.credits, input)
	return &stock.AdjustResult{Balance: input.Delta}, nil
}

type fakeBilling struct {
	mu             sync.Mutex
	invoiceID      int64
	issued         int
	appliedReturns []float64
	applyErr       error
}

func (f *fakeBilling) IssueInvoice(ctx context.Context, orderID, storeID int64, amount float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	if f.invoiceID == 0 {
		f.invoiceID = 77
	}
	return f.invoiceID, nil
}

func (f *fakeBilling) ApplyReturn(ctx context.Context, invoiceID int64, amount float64) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.appliedReturns = append(f.appliedReturns, amount)
	return &billing.Invoice{ID: invoiceID, ReturnAmount: amount}, nil
}

type fixture struct {
	svc     *Service
	repo    *memoryReturnsRepo
	stock   *fakeStock
	billing *fakeBilling
}

// newFixture sets up a delivered delivery (id 1) for an order (id 10,
// store 1) of 10 x product 5 at 12.50.
func newFixture() *fixture {
	repo := &memoryReturnsRepo{}
	deliveries := &fakeDeliveries{deliveries: map[int64]delivery.Delivery{
		1: {ID: 1, OrderID: 10, StoreID: 1, Status: delivery.StatusDelivered},
		2: {ID: 2, OrderID: 11, StoreID: 1, Status: delivery.StatusInTransit},
	}}
	orderStore := &fakeOrders{orders: map[int64]orders.Order{
		10: {
			ID: 10, StoreID: 1, Status: orders.StatusCompleted, FinalAmount: 125,
			Items: []orders.OrderItem{
				{OrderID: 10, ProductID: 5, Quantity: 10, UnitPrice: 12.5},
				{OrderID: 10, ProductID: 6, Quantity: 4, UnitPrice: 3},
			},
		},
		11: {ID: 11, StoreID: 1, Status: orders.StatusApproved},
	}}
	stockPort := &fakeStock{}
	billingPort := &fakeBilling{}
	svc := NewService(repo, deliveries, orderStore, stockPort, billingPort, nil, nil, slog.Default())
	return &fixture{svc: svc, repo: repo, stock: stockPort, billing: billingPort}
}

func TestProcessReturnsBooksCreditAndInvoice(t *testing.T) {
	f := newFixture()

	result, err := f.svc.ProcessReturns(context.Background(), 1, []LineInput{
		{ProductID: 5, Quantity: 4, Reason: ReasonExpired},
	}, 9)
	require.NoError(t, err)
	require.Len(t, result.Returns, 1)
	require.Equal(t, float64(50), result.ReturnValue)
	require.Equal(t, int64(77), result.InvoiceID)

	// stock credited with reason `return`
	require.Len(t, f.stock.credits, 1)
	require.Equal(t, stock.ReasonReturn, f.stock.credits[0].Reason)
	require.Equal(t, int64(4), f.stock.credits[0].Delta)

	// invoice credited with the batch value
	require.Equal(t, []float64{50}, f.billing.appliedReturns)
}

func TestProcessReturnsOverReturnAfterPartial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// 10 delivered, 4 already returned; asking 7 more must fail whole.
	_, err := f.svc.ProcessReturns(ctx, 1, []LineInput{{ProductID: 5, Quantity: 4, Reason: ReasonUnsold}}, 9)
	require.NoError(t, err)

	_, err = f.svc.ProcessReturns(ctx, 1, []LineInput{{ProductID: 5, Quantity: 7, Reason: ReasonUnsold}}, 9)
	var overReturn *OverReturnError
	require.ErrorAs(t, err, &overReturn)
	require.Len(t, overReturn.Violations, 1)
	v := overReturn.Violations[0]
	require.Equal(t, int64(10), v.Delivered)
	require.Equal(t, int64(4), v.AlreadyReturned)
	require.Equal(t, int64(7), v.Requested)
	require.Equal(t, int64(6), v.Returnable)

	// nothing from the failed batch was written
	require.Len(t, f.repo.returns, 1)
	require.Len(t, f.stock.credits, 1)
}

func TestProcessReturnsConcurrentBatchesShareCap(t *testing.T) {
	f := newFixture()

	// two batches of 6 against 10 delivered; only one may land
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ProcessReturns(context.Background(), 1, []LineInput{
				{ProductID: 5, Quantity: 6, Reason: ReasonUnsold},
			}, 9)
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		var overReturn *OverReturnError
		require.ErrorAs(t, err, &overReturn)
		rejected++
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)

	var total int64
	for _, ret := range f.repo.returns {
		total += ret.Quantity
	}
	require.Equal(t, int64(6), total)
	require.Equal(t, []float64{75}, f.billing.appliedReturns)
}

func TestProcessReturnsRollsBackWhenInvoiceAdjustFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.billing.applyErr = errors.New("invoice unavailable")

	_, err := f.svc.ProcessReturns(ctx, 1, []LineInput{
		{ProductID: 5, Quantity: 4, Reason: ReasonExpired},
	}, 9)
	require.Error(t, err)
	require.Empty(t, f.repo.returns)
	require.Empty(t, f.stock.credits)

	// nothing committed, so the same batch can be resubmitted in full
	f.billing.applyErr = nil
	result, err := f.svc.ProcessReturns(ctx, 1, []LineInput{
		{ProductID: 5, Quantity: 4, Reason: ReasonExpired},
	}, 9)
	require.NoError(t, err)
	require.Equal(t, float64(50), result.ReturnValue)
	require.Len(t, f.repo.returns, 1)
}

func TestProcessReturnsAllOrNothing(t *testing.T) {
	f := newFixture()

	// one good line, one over-returning line: neither is booked
	_, err := f.svc.ProcessReturns(context.Background(), 1, []LineInput{
		{ProductID: 5, Quantity: 2, Reason: ReasonDamaged},
		{ProductID: 6, Quantity: 5, Reason: ReasonDamaged},
	}, 9)
	var overReturn *OverReturnError
	require.ErrorAs(t, err, &overReturn)
	require.Len(t, overReturn.Violations, 1)
	require.Equal(t, int64(6), overReturn.Violations[0].ProductID)
	require.Empty(t, f.repo.returns)
	require.Empty(t, f.stock.credits)
	require.Zero(t, f.billing.issued)
}

func TestProcessReturnsDuplicateLinesShareCap(t *testing.T) {
	f := newFixture()

	// two lines for the same product sum to 11 > 10 delivered
	_, err := f.svc.ProcessReturns(context.Background(), 1, []LineInput{
		{ProductID: 5, Quantity: 6, Reason: ReasonExpired},
		{ProductID: 5, Quantity: 5, Reason: ReasonUnsold},
	}, 9)
	var overReturn *OverReturnError
	require.ErrorAs(t, err, &overReturn)
}

func TestProcessReturnsRequiresDeliveredState(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ProcessReturns(context.Background(), 2, []LineInput{
		{ProductID: 5, Quantity: 1, Reason: ReasonExpired},
	}, 9)
	require.ErrorIs(t, err, ErrDeliveryNotDelivered)
}

func TestProcessReturnsValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ProcessReturns(ctx, 1, nil, 9)
	require.ErrorIs(t, err, ErrEmptyReturn)

	_, err = f.svc.ProcessReturns(ctx, 1, []LineInput{{ProductID: 5, Quantity: 0, Reason: ReasonExpired}}, 9)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.ProcessReturns(ctx, 1, []LineInput{{ProductID: 5, Quantity: 1, Reason: Reason("stolen")}}, 9)
	require.ErrorIs(t, err, ErrInvalidReason)

	_, err = f.svc.ProcessReturns(ctx, 1, []LineInput{{ProductID: 99, Quantity: 1, Reason: ReasonExpired}}, 9)
	require.ErrorIs(t, err, ErrProductNotDelivered)

	_, err = f.svc.ProcessReturns(ctx, 404, []LineInput{{ProductID: 5, Quantity: 1, Reason: ReasonExpired}}, 9)
	require.ErrorIs(t, err, delivery.ErrNotFound)
}
