// Package kitchen exposes the preparation sheets spawned by order approval.
// Sheets are created inside the approval transaction; this package only
// reads them and tracks preparation progress.
package kitchen

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SheetStatus tracks preparation progress.
type SheetStatus string

const (
	SheetQueued   SheetStatus = "queued"
	SheetPrepared SheetStatus = "prepared"
)

// Sheet is one kitchen preparation record, one per approved order.
type Sheet struct {
	ID         int64       `json:"id"`
	OrderID    int64       `json:"order_id"`
	Status     SheetStatus `json:"status"`
	PreparedAt *time.Time  `json:"prepared_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Lines      []SheetLine `json:"lines,omitempty"`
}

// SheetLine is one product to prepare.
type SheetLine struct {
	ID        int64 `json:"id"`
	SheetID   int64 `json:"sheet_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// ErrNotFound indicates the sheet was not found.
var ErrNotFound = errors.New("kitchen sheet not found")

// Repository reads and updates kitchen sheets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByOrder returns the sheet spawned for an order.
func (r *Repository) GetByOrder(ctx context.Context, orderID int64) (*Sheet, error) {
	var s Sheet
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, status, prepared_at, created_at
		FROM kitchen_sheets WHERE order_id = $1`, orderID).
		Scan(&s.ID, &s.OrderID, &s.Status, &s.PreparedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sheet_id, product_id, quantity
		FROM kitchen_sheet_lines WHERE sheet_id = $1 ORDER BY id`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line SheetLine
		if err := rows.Scan(&line.ID, &line.SheetID, &line.ProductID, &line.Quantity); err != nil {
			return nil, err
		}
		s.Lines = append(s.Lines, line)
	}
	return &s, rows.Err()
}

// MarkPrepared stamps the sheet once the kitchen confirms it.
func (r *Repository) MarkPrepared(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE kitchen_sheets SET status = $2, prepared_at = NOW()
		WHERE id = $1 AND status = $3`, id, SheetPrepared, SheetQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
