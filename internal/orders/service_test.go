package orders

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freshline-erp/freshline-erp/internal/masterdata"
)

type sheetRecord struct {
	ID      int64
	OrderID int64
	Lines   []KitchenLine
}

type deliveryRecord struct {
	ID        int64
	OrderID   int64
	StoreID   int64
	Scheduled time.Time
}

type memoryOrderRepo struct {
	orders     map[int64]*Order
	sheets     []sheetRecord
	deliveries []deliveryRecord
	nextID     int64
	nextItemID int64
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[int64]*Order)}
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryOrderTx{repo: r})
}

func (r *memoryOrderRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]OrderItem{}, o.Items...)
	return &cp, nil
}

func (r *memoryOrderRepo) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	var out []Order
	for _, o := range r.orders {
		if req.StoreID != 0 && o.StoreID != req.StoreID {
			continue
		}
		if req.Status != "" && o.Status != req.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (r *memoryOrderRepo) FindReplenishmentDraft(ctx context.Context, storeID int64) (*Order, error) {
	for _, o := range r.orders {
		if o.StoreID == storeID && o.Source == SourceReplenishment && o.Status == StatusDraft {
			return r.Get(ctx, o.ID)
		}
	}
	return nil, ErrNotFound
}

func (r *memoryOrderRepo) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	return fmt.Sprintf("ORD-%s-%04d", date.Format("20060102"), len(r.orders)+1), nil
}

type memoryOrderTx struct {
	repo *memoryOrderRepo
}

func (tx *memoryOrderTx) CreateOrder(ctx context.Context, o Order) (int64, error) {
	tx.repo.nextID++
	o.ID = tx.repo.nextID
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	tx.repo.orders[o.ID] = &o
	return o.ID, nil
}

func (tx *memoryOrderTx) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	tx.repo.nextItemID++
	item.ID = tx.repo.nextItemID
	o := tx.repo.orders[item.OrderID]
	o.Items = append(o.Items, item)
	return item.ID, nil
}

func (tx *memoryOrderTx) DeleteItems(ctx context.Context, orderID int64) error {
	tx.repo.orders[orderID].Items = nil
	return nil
}

func (tx *memoryOrderTx) DeleteItem(ctx context.Context, orderID, productID int64) (bool, error) {
	o := tx.repo.orders[orderID]
	remaining := o.Items[:0]
	removed := false
	for _, item := range o.Items {
		if item.ProductID == productID {
			removed = true
			continue
		}
		remaining = append(remaining, item)
	}
	o.Items = remaining
	return removed, nil
}

func (tx *memoryOrderTx) UpdateTotals(ctx context.Context, orderID int64, totals Totals) error {
	o := tx.repo.orders[orderID]
	o.TotalAmount = totals.Subtotal
	o.DiscountAmount = totals.Discount
	o.FinalAmount = totals.Final
	return nil
}

func (tx *memoryOrderTx) UpdateStatus(ctx context.Context, id int64, next Status, from []Status, updates map[string]interface{}) (bool, error) {
	o, ok := tx.repo.orders[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if o.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	o.Status = next
	for col, val := range updates {
		switch col {
		case "approved_by":
			v := val.(int64)
			o.ApprovedBy = &v
		case "approved_at":
			v := val.(time.Time)
			o.ApprovedAt = &v
		case "completed_at":
			v := val.(time.Time)
			o.CompletedAt = &v
		case "reject_reason":
			v := val.(string)
			o.RejectReason = &v
		}
	}
	return true, nil
}

func (tx *memoryOrderTx) CreateKitchenSheet(ctx context.Context, orderID int64, lines []KitchenLine) (int64, error) {
	id := int64(len(tx.repo.sheets) + 1)
	tx.repo.sheets = append(tx.repo.sheets, sheetRecord{ID: id, OrderID: orderID, Lines: lines})
	return id, nil
}

func (tx *memoryOrderTx) CreateDelivery(ctx context.Context, orderID, storeID int64, scheduled time.Time) (int64, error) {
	id := int64(len(tx.repo.deliveries) + 1)
	tx.repo.deliveries = append(tx.repo.deliveries, deliveryRecord{ID: id, OrderID: orderID, StoreID: storeID, Scheduled: scheduled})
	return id, nil
}

type fakeStores struct {
	stores map[int64]masterdata.Store
}

func (f *fakeStores) GetStore(ctx context.Context, id int64) (masterdata.Store, error) {
	s, ok := f.stores[id]
	if !ok {
		return masterdata.Store{}, masterdata.ErrStoreNotFound
	}
	return s, nil
}

type fakeCatalog struct {
	products map[int64]masterdata.Product
}

func (f *fakeCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]masterdata.Product, error) {
	out := make(map[int64]masterdata.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeInvoicer struct {
	issued []float64
	fail   error
}

func (f *fakeInvoicer) IssueInvoice(ctx context.Context, orderID, storeID int64, amount float64) (int64, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	f.issued = append(f.issued, amount)
	return int64(len(f.issued)), nil
}

type orderFixture struct {
	svc     *Service
	repo    *memoryOrderRepo
	stores  *fakeStores
	catalog *fakeCatalog
	billing *fakeInvoicer
}

// newOrderFixture wires store 1 with a 4000 limit and a 3500 balance, an
// inactive store 2, an uncapped store 3, and products 5 (12.50) and 6 (3.00).
func newOrderFixture() *orderFixture {
	limit := 4000.0
	stores := &fakeStores{stores: map[int64]masterdata.Store{
		1: {ID: 1, Code: "ST-001", CreditLimit: &limit, CurrentBalance: 3500, Active: true},
		2: {ID: 2, Code: "ST-002", Active: false},
		3: {ID: 3, Code: "ST-003", CurrentBalance: 99999, Active: true},
	}}
	catalog := &fakeCatalog{products: map[int64]masterdata.Product{
		5: {ID: 5, SKU: "BRD-01", Price: 12.5, Active: true},
		6: {ID: 6, SKU: "BRD-02", Price: 3, Active: true},
		7: {ID: 7, SKU: "BRD-03", Price: 9, Active: false},
	}}
	repo := newMemoryOrderRepo()
	billing := &fakeInvoicer{}
	svc := NewService(repo, stores, catalog, nil, slog.Default())
	svc.SetBilling(billing)
	return &orderFixture{svc: svc, repo: repo, stores: stores, catalog: catalog, billing: billing}
}

func (f *orderFixture) create(t *testing.T, storeID int64, discount float64, items ...ItemInput) *Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		StoreID:        storeID,
		Items:          items,
		DiscountAmount: discount,
		CreatedBy:      9,
	})
	require.NoError(t, err)
	return order
}

func TestCreateSnapshotsPrices(t *testing.T) {
	f := newOrderFixture()

	order := f.create(t, 1, 20, ItemInput{ProductID: 5, Quantity: 10}, ItemInput{ProductID: 6, Quantity: 4})
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, SourceManual, order.Source)
	require.Equal(t, 137.0, order.TotalAmount)
	require.Equal(t, 20.0, order.DiscountAmount)
	require.Equal(t, 117.0, order.FinalAmount)
	require.Len(t, order.Items, 2)
	require.Equal(t, 12.5, order.Items[0].UnitPrice)

	// a later catalogue price change must not move the frozen line
	p := f.catalog.products[5]
	p.Price = 99
	f.catalog.products[5] = p

	got, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 12.5, got.Items[0].UnitPrice)
	require.Equal(t, 117.0, got.FinalAmount)
}

func TestCreateValidation(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{StoreID: 2, Items: []ItemInput{{ProductID: 5, Quantity: 1}}})
	require.ErrorIs(t, err, ErrInactiveStore)

	_, err = f.svc.Create(ctx, CreateInput{StoreID: 1})
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, err = f.svc.Create(ctx, CreateInput{StoreID: 1, Items: []ItemInput{{ProductID: 5, Quantity: 0}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.Create(ctx, CreateInput{StoreID: 1, Items: []ItemInput{{ProductID: 7, Quantity: 1}}})
	require.ErrorIs(t, err, ErrInactiveProduct)

	_, err = f.svc.Create(ctx, CreateInput{StoreID: 1, Items: []ItemInput{{ProductID: 404, Quantity: 1}}})
	require.ErrorIs(t, err, masterdata.ErrProductNotFound)
}

func TestApproveCreatesKitchenSheetAndDelivery(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 4})

	approved, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, int64(42), *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	require.Len(t, f.repo.sheets, 1)
	require.Equal(t, order.ID, f.repo.sheets[0].OrderID)
	require.Equal(t, []KitchenLine{{ProductID: 5, Quantity: 4}}, f.repo.sheets[0].Lines)

	require.Len(t, f.repo.deliveries, 1)
	require.Equal(t, order.ID, f.repo.deliveries[0].OrderID)
	require.Equal(t, int64(1), f.repo.deliveries[0].StoreID)
	require.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), f.repo.deliveries[0].Scheduled, time.Minute)
}

func TestApproveTwiceFails(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 6, Quantity: 2})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), order.ID, 42)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusApproved, invalid.From)

	// exactly one sheet and one delivery despite the retry
	require.Len(t, f.repo.sheets, 1)
	require.Len(t, f.repo.deliveries, 1)
}

func TestApproveBlockedByCreditLimit(t *testing.T) {
	f := newOrderFixture()

	// 3500 outstanding + 600 order > 4000 limit
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 48})
	require.Equal(t, 600.0, order.FinalAmount)

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	var credit *CreditLimitExceededError
	require.ErrorAs(t, err, &credit)
	require.Equal(t, int64(1), credit.StoreID)
	require.Equal(t, 4000.0, credit.Limit)
	require.Equal(t, 3500.0, credit.Balance)
	require.Equal(t, 600.0, credit.Amount)

	got, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Empty(t, f.repo.sheets)
}

func TestApproveAtExactLimitPasses(t *testing.T) {
	f := newOrderFixture()

	// 3500 + 500 == 4000 is still within the limit
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 40})
	require.Equal(t, 500.0, order.FinalAmount)

	approved, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
}

func TestApproveUncappedStore(t *testing.T) {
	f := newOrderFixture()

	// store 3 has no limit, any balance passes
	order := f.create(t, 3, 0, ItemInput{ProductID: 5, Quantity: 1000})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)
}

func TestRejectRecordsReason(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 6, Quantity: 1})

	_, err := f.svc.Submit(context.Background(), order.ID)
	require.NoError(t, err)

	rejected, err := f.svc.Reject(context.Background(), order.ID, "wrong store", 42)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	require.Contains(t, *rejected.RejectReason, "wrong store")

	// rejected is terminal
	_, err = f.svc.Submit(context.Background(), order.ID)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestCompleteIssuesInvoice(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 6, Quantity: 10})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)

	completed, err := f.svc.Complete(context.Background(), order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.Equal(t, []float64{30}, f.billing.issued)
}

func TestCompleteSurvivesInvoiceFailure(t *testing.T) {
	f := newOrderFixture()
	f.billing.fail = fmt.Errorf("billing down")
	order := f.create(t, 1, 0, ItemInput{ProductID: 6, Quantity: 1})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)

	completed, err := f.svc.Complete(context.Background(), order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
}

func TestCancelApprovedOrder(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 6, Quantity: 1})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.Complete(context.Background(), order.ID, 42)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestItemMutationsReprice(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 2})

	order, err := f.svc.AddItem(context.Background(), order.ID, ItemInput{ProductID: 6, Quantity: 3})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.Equal(t, 34.0, order.FinalAmount)

	order, err = f.svc.RemoveItem(context.Background(), order.ID, 5)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, 9.0, order.FinalAmount)

	order, err = f.svc.ReplaceItems(context.Background(), order.ID, []ItemInput{{ProductID: 5, Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, 12.5, order.FinalAmount)

	order, err = f.svc.SetDiscount(context.Background(), order.ID, 2.5)
	require.NoError(t, err)
	require.Equal(t, 10.0, order.FinalAmount)
}

func TestItemMutationsLockedAfterApproval(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 2})

	_, err := f.svc.Approve(context.Background(), order.ID, 42)
	require.NoError(t, err)

	_, err = f.svc.AddItem(context.Background(), order.ID, ItemInput{ProductID: 6, Quantity: 1})
	require.ErrorIs(t, err, ErrNotEditable)

	_, err = f.svc.RemoveItem(context.Background(), order.ID, 5)
	require.ErrorIs(t, err, ErrNotEditable)

	_, err = f.svc.SetDiscount(context.Background(), order.ID, 1)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestRemoveMissingItem(t *testing.T) {
	f := newOrderFixture()
	order := f.create(t, 1, 0, ItemInput{ProductID: 5, Quantity: 2})

	_, err := f.svc.RemoveItem(context.Background(), order.ID, 404)
	require.ErrorIs(t, err, masterdata.ErrProductNotFound)
}
