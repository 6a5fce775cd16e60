package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists stores and products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const storeColumns = `id, code, name, credit_limit, current_balance, active, created_at, updated_at`

func scanStore(row pgx.Row) (Store, error) {
	var s Store
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.CreditLimit, &s.CurrentBalance, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, err
	}
	return s, nil
}

// GetStore returns one store by id.
func (r *Repository) GetStore(ctx context.Context, id int64) (Store, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id)
	return scanStore(row)
}

// ListActiveStores returns every active store ordered by code.
func (r *Repository) ListActiveStores(ctx context.Context) ([]Store, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+storeColumns+` FROM stores WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// CreateStore inserts a store and returns it.
func (r *Repository) CreateStore(ctx context.Context, input CreateStoreInput) (Store, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO stores (code, name, credit_limit, current_balance, active, created_at, updated_at)
		VALUES ($1, $2, $3, 0, TRUE, NOW(), NOW())
		RETURNING `+storeColumns,
		input.Code, input.Name, input.CreditLimit)
	return scanStore(row)
}

// UpdateStore applies the optional field updates.
func (r *Repository) UpdateStore(ctx context.Context, id int64, input UpdateStoreInput) (Store, error) {
	limitClause := `credit_limit = COALESCE($3, credit_limit)`
	if input.ClearLimit {
		limitClause = `credit_limit = NULL`
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE stores SET
			name = COALESCE($2, name),
			`+limitClause+`,
			active = COALESCE($4, active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+storeColumns,
		id, input.Name, input.CreditLimit, input.Active)
	return scanStore(row)
}

// AdjustStoreBalance moves the running balance by delta and returns the
// resulting balance. Callers run this inside their own transaction when the
// movement must commit with other rows.
func (r *Repository) AdjustStoreBalance(ctx context.Context, id int64, delta float64) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `
		UPDATE stores SET current_balance = current_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING current_balance`, id, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStoreNotFound
		}
		return 0, err
	}
	return balance, nil
}

const productColumns = `id, sku, name, price, min_stock_level, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetProduct returns one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// GetProducts returns the products for the given ids, keyed by id.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

// ListProducts returns every product ordered by sku.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateProduct inserts a product and returns it.
func (r *Repository) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO products (sku, name, price, min_stock_level, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING `+productColumns,
		input.SKU, input.Name, input.Price, input.MinStockLevel)
	p, err := scanProduct(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct applies the optional field updates.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, input UpdateProductInput) (Product, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE products SET
			name = COALESCE($2, name),
			price = COALESCE($3, price),
			min_stock_level = COALESCE($4, min_stock_level),
			active = COALESCE($5, active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, input.Name, input.Price, input.MinStockLevel, input.Active)
	return scanProduct(row)
}
