package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/platform/db"
)

// Repository defines delivery persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Delivery, error)
	GetByOrder(ctx context.Context, orderID int64) (*Delivery, error)
	List(ctx context.Context, req ListRequest) ([]Delivery, int, error)
	GetProof(ctx context.Context, deliveryID int64) (*ProofOfDelivery, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	// UpdateStatus flips the status only when the current value is one of
	// from, serialising concurrent transitions per delivery id.
	UpdateStatus(ctx context.Context, id int64, next Status, from []Status, updates map[string]interface{}) (bool, error)
	UpsertProof(ctx context.Context, proof ProofOfDelivery) error
}

// ListRequest filters delivery listings.
type ListRequest struct {
	StoreID  int64
	DriverID int64
	Status   Status
	Limit    int
	Offset   int
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

const deliveryColumns = `id, order_id, store_id, status, scheduled_date, driver_id, delivered_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.OrderID, &d.StoreID, &d.Status, &d.ScheduledDate, &d.DriverID, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Delivery, error) {
	return scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
}

func (r *repository) GetByOrder(ctx context.Context, orderID int64) (*Delivery, error) {
	return scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1`, orderID))
}

// List returns a filtered page of deliveries plus the total count.
func (r *repository) List(ctx context.Context, req ListRequest) ([]Delivery, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	argn := 0
	if req.StoreID != 0 {
		argn++
		where += fmt.Sprintf(` AND store_id = $%d`, argn)
		args = append(args, req.StoreID)
	}
	if req.DriverID != 0 {
		argn++
		where += fmt.Sprintf(` AND driver_id = $%d`, argn)
		args = append(args, req.DriverID)
	}
	if req.Status != "" {
		argn++
		where += fmt.Sprintf(` AND status = $%d`, argn)
		args = append(args, req.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf(`SELECT `+deliveryColumns+` FROM deliveries %s ORDER BY scheduled_date DESC LIMIT $%d OFFSET $%d`, where, argn+1, argn+2)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, total, rows.Err()
}

// GetProof returns the proof-of-delivery record, or nil when none exists.
func (r *repository) GetProof(ctx context.Context, deliveryID int64) (*ProofOfDelivery, error) {
	var p ProofOfDelivery
	err := r.pool.QueryRow(ctx, `
		SELECT delivery_id, signature_ref, photo_ref, captured_by, updated_at
		FROM delivery_proofs WHERE delivery_id = $1`, deliveryID).
		Scan(&p.DeliveryID, &p.SignatureRef, &p.PhotoRef, &p.CapturedBy, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
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
	query := fmt.Sprintf(`UPDATE deliveries SET %s WHERE id = $1 AND status = ANY($%d)`, setClause, argn)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertProof writes the single proof row per delivery; the latest write wins.
func (r *txRepository) UpsertProof(ctx context.Context, proof ProofOfDelivery) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO delivery_proofs (delivery_id, signature_ref, photo_ref, captured_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (delivery_id) DO UPDATE SET
			signature_ref = EXCLUDED.signature_ref,
			photo_ref = EXCLUDED.photo_ref,
			captured_by = EXCLUDED.captured_by,
			updated_at = NOW()`,
		proof.DeliveryID, proof.SignatureRef, proof.PhotoRef, proof.CapturedBy)
	return err
}
