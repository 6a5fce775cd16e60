package stock

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/platform/db"
)

// Repository defines stock persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, storeID, productID int64) (int64, error)
	ListBalances(ctx context.Context, storeID int64) ([]Balance, error)
	ListMovements(ctx context.Context, storeID, productID int64, limit, offset int) ([]Movement, error)
	LowStock(ctx context.Context, storeID int64) ([]LowStockRow, error)
	SetThreshold(ctx context.Context, storeID, productID int64, threshold *int64) error
}

// TxRepository holds the journal writes; a movement insert and its balance
// fold always share one transaction.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ApplyDelta(ctx context.Context, storeID, productID, delta int64) (int64, error)
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

// GetBalance returns the current quantity; a pair with no movements is 0.
func (r *repository) GetBalance(ctx context.Context, storeID, productID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT quantity FROM stock_balances WHERE store_id = $1 AND product_id = $2), 0)`,
		storeID, productID).Scan(&qty)
	return qty, err
}

func (r *repository) ListBalances(ctx context.Context, storeID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT store_id, product_id, quantity, threshold, updated_at
		FROM stock_balances WHERE store_id = $1 ORDER BY product_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.StoreID, &b.ProductID, &b.Quantity, &b.Threshold, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *repository) ListMovements(ctx context.Context, storeID, productID int64, limit, offset int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, product_id, delta, reason, actor_id, ref, posted_at
		FROM stock_movements
		WHERE store_id = $1 AND product_id = $2
		ORDER BY posted_at DESC, id DESC
		LIMIT $3 OFFSET $4`, storeID, productID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.StoreID, &m.ProductID, &m.Delta, &m.Reason, &m.ActorID, &m.Ref, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// LowStock lists products under their effective threshold at a store. A
// per-store threshold on stock_balances wins; otherwise the product's
// min_stock_level applies. Products with no balance row count as zero stock.
func (r *repository) LowStock(ctx context.Context, storeID int64) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT $1::bigint, p.id, p.name,
			COALESCE(b.quantity, 0),
			COALESCE(b.threshold, p.min_stock_level)
		FROM products p
		LEFT JOIN stock_balances b ON b.product_id = p.id AND b.store_id = $1
		WHERE p.active
		  AND COALESCE(b.threshold, p.min_stock_level) > 0
		  AND COALESCE(b.quantity, 0) < COALESCE(b.threshold, p.min_stock_level)
		ORDER BY p.id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.StoreID, &row.ProductID, &row.ProductName, &row.Quantity, &row.Threshold); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetThreshold stores a per-store override; nil clears it back to the
// product default.
func (r *repository) SetThreshold(ctx context.Context, storeID, productID int64, threshold *int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stock_balances (store_id, product_id, quantity, threshold, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			updated_at = NOW()`,
		storeID, productID, threshold)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (store_id, product_id, delta, reason, actor_id, ref, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		m.StoreID, m.ProductID, m.Delta, m.Reason, m.ActorID, m.Ref).Scan(&id)
	return id, err
}

// ApplyDelta folds a delta into the balance projection, creating the row at
// zero first if needed, and returns the new quantity.
func (r *txRepository) ApplyDelta(ctx context.Context, storeID, productID, delta int64) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO stock_balances (store_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			quantity = stock_balances.quantity + EXCLUDED.quantity,
			updated_at = NOW()
		RETURNING quantity`,
		storeID, productID, delta).Scan(&qty)
	return qty, err
}
