package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/platform/db"
)

// Repository defines billing persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	ListInvoices(ctx context.Context, storeID int64, status PaymentStatus, limit, offset int) ([]Invoice, int, error)
	ListOutstanding(ctx context.Context) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
}

// TxRepository holds transactional billing writes.
type TxRepository interface {
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	// GetInvoiceForUpdate locks the invoice row for the reconcile write.
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	UpdateAmounts(ctx context.Context, id int64, returnAmount, paidAmount float64, status PaymentStatus) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
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

const invoiceColumns = `id, number, order_id, store_id, total_amount, return_amount, paid_amount, payment_status, due_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.StoreID, &inv.TotalAmount,
		&inv.ReturnAmount, &inv.PaidAmount, &inv.PaymentStatus, &inv.DueDate,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func (r *repository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID))
}

func (r *repository) ListInvoices(ctx context.Context, storeID int64, status PaymentStatus, limit, offset int) ([]Invoice, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	argn := 0
	if storeID != 0 {
		argn++
		where += fmt.Sprintf(` AND store_id = $%d`, argn)
		args = append(args, storeID)
	}
	if status != "" {
		argn++
		where += fmt.Sprintf(` AND payment_status = $%d`, argn)
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argn+1, argn+2)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, total, rows.Err()
}

// ListOutstanding returns every invoice that still carries a collectible
// amount, for the aging report and the reminder sweep.
func (r *repository) ListOutstanding(ctx context.Context) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE payment_status <> 'paid'
		ORDER BY due_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (r *repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, amount, method, note, recorded_by, paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Note, &p.RecordedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GenerateNumber produces the next human-readable invoice number for the
// day. The per-day counter advances through an atomic upsert, so concurrent
// issuance never mints the same number.
func (r *repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	day := date.Format("20060102")
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invoice_number_seqs (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = invoice_number_seqs.seq + 1
		RETURNING seq`, day).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%04d", day, seq), nil
}

func (r *txRepository) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, order_id, store_id, total_amount, return_amount,
			paid_amount, payment_status, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id`,
		inv.Number, inv.OrderID, inv.StoreID, inv.TotalAmount, inv.ReturnAmount,
		inv.PaidAmount, inv.PaymentStatus, inv.DueDate).Scan(&id)
	return id, err
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateAmounts(ctx context.Context, id int64, returnAmount, paidAmount float64, status PaymentStatus) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices SET return_amount = $2, paid_amount = $3, payment_status = $4, updated_at = NOW()
		WHERE id = $1`, id, returnAmount, paidAmount, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, amount, method, note, recorded_by, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.InvoiceID, p.Amount, p.Method, p.Note, p.RecordedBy, p.PaidAt).Scan(&id)
	return id, err
}

// MarkOverdue flips pending invoices past their due date; returns the count.
func (r *txRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices SET payment_status = 'overdue', updated_at = NOW()
		WHERE payment_status = 'pending' AND due_date < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
