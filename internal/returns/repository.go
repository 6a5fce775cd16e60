package returns

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/platform/db"
)

// Repository defines return persistence. Return rows are append-only.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByDelivery(ctx context.Context, deliveryID int64) ([]Return, error)
	ListByStore(ctx context.Context, storeID int64, limit, offset int) ([]Return, error)
}

// TxRepository holds the transactional writes. LockDelivery serializes
// concurrent batches against one delivery; ReturnedQuantities must run
// after the lock is granted so the cap check sees every committed batch.
type TxRepository interface {
	LockDelivery(ctx context.Context, deliveryID int64) error
	ReturnedQuantities(ctx context.Context, deliveryID int64) (map[int64]int64, error)
	InsertReturn(ctx context.Context, ret Return) (int64, error)
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

// WithTx wraps fn in a read-committed transaction. The batch flow locks the
// delivery row and then re-reads prior quantities, which needs a fresh
// snapshot once the lock is granted.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const returnColumns = `id, delivery_id, order_id, store_id, product_id, quantity, reason, return_value, returned_by, created_at`

func (r *repository) scanReturns(rows pgx.Rows) ([]Return, error) {
	defer rows.Close()
	var out []Return
	for rows.Next() {
		var ret Return
		if err := rows.Scan(&ret.ID, &ret.DeliveryID, &ret.OrderID, &ret.StoreID, &ret.ProductID,
			&ret.Quantity, &ret.Reason, &ret.ReturnValue, &ret.ReturnedBy, &ret.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

func (r *repository) ListByDelivery(ctx context.Context, deliveryID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns WHERE delivery_id = $1 ORDER BY created_at, id`, deliveryID)
	if err != nil {
		return nil, err
	}
	return r.scanReturns(rows)
}

func (r *repository) ListByStore(ctx context.Context, storeID int64, limit, offset int) ([]Return, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns WHERE store_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.scanReturns(rows)
}

// LockDelivery takes the delivery row lock that serializes return batches.
func (r *txRepository) LockDelivery(ctx context.Context, deliveryID int64) error {
	var id int64
	return r.tx.QueryRow(ctx, `
		SELECT id FROM deliveries WHERE id = $1 FOR UPDATE`, deliveryID).Scan(&id)
}

// ReturnedQuantities sums prior returned quantities per product for a
// delivery.
func (r *txRepository) ReturnedQuantities(ctx context.Context, deliveryID int64) (map[int64]int64, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT product_id, COALESCE(SUM(quantity), 0)
		FROM returns WHERE delivery_id = $1 GROUP BY product_id`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var productID, qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

func (r *txRepository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO returns (delivery_id, order_id, store_id, product_id, quantity, reason, return_value, returned_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id`,
		ret.DeliveryID, ret.OrderID, ret.StoreID, ret.ProductID, ret.Quantity,
		ret.Reason, ret.ReturnValue, ret.ReturnedBy).Scan(&id)
	return id, err
}
