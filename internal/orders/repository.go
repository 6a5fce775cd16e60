package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/platform/db"
)

// Repository defines persistence for orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]Order, int, error)
	FindReplenishmentDraft(ctx context.Context, storeID int64) (*Order, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
}

// TxRepository exposes the writes that must commit together.
type TxRepository interface {
	CreateOrder(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	DeleteItems(ctx context.Context, orderID int64) error
	DeleteItem(ctx context.Context, orderID, productID int64) (bool, error)
	UpdateTotals(ctx context.Context, orderID int64, totals Totals) error
	// UpdateStatus flips the status only when the current value is one of
	// from; the boolean result reports whether a row matched. This is the
	// optimistic re-check that serialises concurrent transitions per order.
	UpdateStatus(ctx context.Context, id int64, next Status, from []Status, updates map[string]interface{}) (bool, error)
	CreateKitchenSheet(ctx context.Context, orderID int64, lines []KitchenLine) (int64, error)
	CreateDelivery(ctx context.Context, orderID, storeID int64, scheduled time.Time) (int64, error)
}

// ListRequest filters order listings.
type ListRequest struct {
	StoreID int64
	Status  Status
	Limit   int
	Offset  int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, number, store_id, status, source, total_amount, discount_amount, final_amount,
	notes, reject_reason, created_by, approved_by, approved_at, completed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Number, &o.StoreID, &o.Status, &o.Source, &o.TotalAmount, &o.DiscountAmount,
		&o.FinalAmount, &o.Notes, &o.RejectReason, &o.CreatedBy, &o.ApprovedBy, &o.ApprovedAt,
		&o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Get retrieves an order with its items.
func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *repository) getItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns a filtered page of orders plus the total count.
func (r *repository) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	argn := 0
	if req.StoreID != 0 {
		argn++
		where += fmt.Sprintf(` AND store_id = $%d`, argn)
		args = append(args, req.StoreID)
	}
	if req.Status != "" {
		argn++
		where += fmt.Sprintf(` AND status = $%d`, argn)
		args = append(args, req.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf(`SELECT `+orderColumns+` FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argn+1, argn+2)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

// FindReplenishmentDraft returns the open replenishment draft for the store,
// or ErrNotFound when there is none.
func (r *repository) FindReplenishmentDraft(ctx context.Context, storeID int64) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE store_id = $1 AND source = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`,
		storeID, SourceReplenishment, StatusDraft))
	if err != nil {
		return nil, err
	}
	items, err := r.getItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// GenerateNumber produces the next human-readable order number for the day.
// The per-day counter advances through an atomic upsert, so concurrent
// creations never mint the same number.
func (r *repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	day := date.Format("20060102")
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO order_number_seqs (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = order_number_seqs.seq + 1
		RETURNING seq`, day).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%04d", day, seq), nil
}

func (r *txRepository) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO orders (number, store_id, status, source, total_amount, discount_amount,
			final_amount, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		o.Number, o.StoreID, o.Status, o.Source, o.TotalAmount, o.DiscountAmount,
		o.FinalAmount, o.Notes, o.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	return id, err
}

func (r *txRepository) DeleteItems(ctx context.Context, orderID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	return err
}

func (r *txRepository) DeleteItem(ctx context.Context, orderID, productID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1 AND product_id = $2`, orderID, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepository) UpdateTotals(ctx context.Context, orderID int64, totals Totals) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE orders SET total_amount = $2, discount_amount = $3, final_amount = $4, updated_at = NOW()
		WHERE id = $1`,
		orderID, totals.Subtotal, totals.Discount, totals.Final)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, next Status, from []Status, updates map[string]interface{}) (bool, error) {
	setClause := `status = $2, updated_at = NOW()`
	args := []interface{}{id, next}
	argn := 2
	for col, val := range updates {
		argn++
		setClause += fmt.Sprintf(`, %s = $%d`, col, argn)
		args = append(args, val)
	}
	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}
	argn++
	args = append(args, fromStates)
	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $1 AND status = ANY($%d)`, setClause, argn)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepository) CreateKitchenSheet(ctx context.Context, orderID int64, lines []KitchenLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO kitchen_sheets (order_id, status, created_at)
		VALUES ($1, 'queued', NOW())
		RETURNING id`, orderID).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO kitchen_sheet_lines (sheet_id, product_id, quantity)
			VALUES ($1, $2, $3)`, id, line.ProductID, line.Quantity); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *txRepository) CreateDelivery(ctx context.Context, orderID, storeID int64, scheduled time.Time) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO deliveries (order_id, store_id, status, scheduled_date, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, NOW(), NOW())
		RETURNING id`, orderID, storeID, scheduled).Scan(&id)
	return id, err
}
