package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"strings"
	"time"
)

type InvoiceRepo struct{ DB *pgxpool.Pool }

const invoiceCols = `id, customer_id, order_ids, amount, draft, status, due_date, period_start, period_end,
	payment_method, transaction_id, transaction_date, created_at, updated_at`

func scanInvoice(row rowScanner) (invoicing.Invoice, error) {
	var inv invoicing.Invoice
	var status string
	var method, txID *string
	err := row.Scan(&inv.ID, &inv.CustomerID, &inv.OrderIDs, &inv.Amount, &inv.Draft, &status,
		&inv.DueDate, &inv.PeriodStart, &inv.PeriodEnd, &method, &txID, &inv.TransactionDate,
		&inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = invoicing.Status(status)
	if method != nil {
		inv.PaymentMethod = invoicing.Method(*method)
	}
	if txID != nil {
		inv.TransactionID = *txID
	}
	return inv, err
}

func (r *InvoiceRepo) FindClaimable(ctx context.Context, customerID string, w billing.Window) ([]invoicing.BillableOrder, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, total_amount, created_at FROM orders
		WHERE customer_id = $1 AND status = 'delivered' AND invoice_id IS NULL
		  AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at`, customerID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("find billable orders: %w", err)
	}
	defer rows.Close()
	out := []invoicing.BillableOrder{}
	for rows.Next() {
		var o invoicing.BillableOrder
		if err := rows.Scan(&o.ID, &o.TotalAmount, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateClaiming inserts the invoice and claims its orders in one
// transaction. The claim only touches rows whose invoice_id is still null,
// so a short row count means a concurrent run got there first.
func (r *InvoiceRepo) CreateClaiming(ctx context.Context, inv invoicing.Invoice) error {
	return inTx(ctx, r.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (id, customer_id, order_ids, amount, draft, status, due_date,
				period_start, period_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			inv.ID, inv.CustomerID, inv.OrderIDs, inv.Amount, inv.Draft, string(inv.Status), inv.DueDate,
			inv.PeriodStart, inv.PeriodEnd, inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET invoice_id = $1, updated_at = now()
			WHERE id = ANY($2::uuid[]) AND invoice_id IS NULL`, inv.ID, inv.OrderIDs)
		if err != nil {
			return fmt.Errorf("claim orders: %w", err)
		}
		if int(tag.RowsAffected()) != len(inv.OrderIDs) {
			return apperr.Conflict("orders already claimed by another invoice")
		}
		return nil
	})
}

func (r *InvoiceRepo) Get(ctx context.Context, id string) (invoicing.Invoice, error) {
	inv, err := scanInvoice(r.DB.QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id=$1`, id))
	if noRows(err) {
		return invoicing.Invoice{}, apperr.NotFound("invoice not found")
	}
	if err != nil {
		return invoicing.Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepo) List(ctx context.Context, f invoicing.Filter) ([]invoicing.Invoice, error) {
	var where []string
	var args []any
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.InvoiceID != "" {
		args = append(args, f.InvoiceID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	q := `SELECT ` + invoiceCols + ` FROM invoices`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	out := []invoicing.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *InvoiceRepo) SetDraft(ctx context.Context, id string, draft bool, status invoicing.Status, at time.Time) (invoicing.Invoice, error) {
	return r.conditional(ctx, id, `
		UPDATE invoices SET draft = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status <> 'paid'
		RETURNING `+invoiceCols,
		apperr.Conflict("invoice is already paid"),
		id, draft, string(status), at)
}

func (r *InvoiceRepo) RecordPayment(ctx context.Context, id string, p invoicing.Payment, at time.Time) (invoicing.Invoice, error) {
	var txID *string
	if p.TransactionID != "" {
		txID = &p.TransactionID
	}
	return r.conditional(ctx, id, `
		UPDATE invoices SET payment_method = $2, transaction_id = $3, transaction_date = $4, updated_at = $5
		WHERE id = $1 AND payment_method IS NULL
		RETURNING `+invoiceCols,
		apperr.Conflict("payment details already recorded for this invoice"),
		id, string(p.Method), txID, p.TransactionDate, at)
}

func (r *InvoiceRepo) MarkPaid(ctx context.Context, id string, at time.Time) (invoicing.Invoice, error) {
	return r.conditional(ctx, id, `
		UPDATE invoices SET status = 'paid', updated_at = $2
		WHERE id = $1 AND payment_method IS NOT NULL
		RETURNING `+invoiceCols,
		apperr.Conflict("no payment recorded yet, can't mark invoice as paid"),
		id, at)
}

// conditional runs a guarded update. No row back means either the invoice is
// missing (NotFound) or the guard failed (refused).
func (r *InvoiceRepo) conditional(ctx context.Context, id, q string, refused error, args ...any) (invoicing.Invoice, error) {
	inv, err := scanInvoice(r.DB.QueryRow(ctx, q, args...))
	if err == nil {
		return inv, nil
	}
	if !noRows(err) {
		return invoicing.Invoice{}, fmt.Errorf("update invoice: %w", err)
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id=$1)`, id).Scan(&exists); err != nil {
		return invoicing.Invoice{}, err
	}
	if !exists {
		return invoicing.Invoice{}, apperr.NotFound("invoice not found")
	}
	return invoicing.Invoice{}, refused
}
