package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"strings"
)

type OrderRepo struct{ DB *pgxpool.Pool }

const orderCols = `id, customer_id, total_amount, status, invoice_id, created_at, updated_at`

func scanOrder(row rowScanner) (orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.CustomerID, &o.TotalAmount, &status, &o.InvoiceID, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	return o, err
}

func (r *OrderRepo) Insert(ctx context.Context, o orders.Order) error {
	return inTx(ctx, r.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer_id, total_amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.CustomerID, o.TotalAmount, string(o.Status), o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		batch := &pgx.Batch{}
		for i, l := range o.Lines {
			batch.Queue(`
				INSERT INTO order_lines (order_id, line_no, inventory_id, name, category, unit_price, quantity)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				o.ID, i, l.InventoryID, l.Name, l.Category, l.UnitPrice, l.Quantity)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		return nil
	})
}

func (r *OrderRepo) Get(ctx context.Context, id string) (orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if noRows(err) {
		return orders.Order{}, apperr.NotFound("order not found")
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order: %w", err)
	}
	list := []orders.Order{o}
	if err := r.loadLines(ctx, list); err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func (r *OrderRepo) List(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	var where []string
	var args []any
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepo) loadLines(ctx context.Context, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	pos := make(map[string]int, len(list))
	ids := make([]string, 0, len(list))
	for i, o := range list {
		pos[o.ID] = i
		ids = append(ids, o.ID)
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, inventory_id, name, category, unit_price, quantity
		FROM order_lines WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var l orders.Line
		if err := rows.Scan(&orderID, &l.InventoryID, &l.Name, &l.Category, &l.UnitPrice, &l.Quantity); err != nil {
			return err
		}
		i := pos[orderID]
		list[i].Lines = append(list[i].Lines, l)
	}
	return rows.Err()
}

func (r *OrderRepo) CompareAndSetStatus(ctx context.Context, id string, from, to orders.Status) (orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+orderCols, id, string(from), string(to)))
	if noRows(err) {
		var cur string
		err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&cur)
		if noRows(err) {
			return orders.Order{}, apperr.NotFound("order not found")
		}
		if err != nil {
			return orders.Order{}, err
		}
		return orders.Order{}, apperr.Conflict("order status changed concurrently, now %s", cur)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("update order status: %w", err)
	}
	list := []orders.Order{o}
	if err := r.loadLines(ctx, list); err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

// Delete refuses orders already claimed by an invoice; the invoice amount
// is the sum of the orders it references.
func (r *OrderRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND invoice_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var invoiceID *string
	err = r.DB.QueryRow(ctx, `SELECT invoice_id FROM orders WHERE id=$1`, id).Scan(&invoiceID)
	if noRows(err) {
		return apperr.NotFound("order not found")
	}
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if invoiceID == nil {
		return apperr.Conflict("order changed concurrently, retry")
	}
	return apperr.Conflict("order is billed on invoice %s and can't be deleted", *invoiceID)
}
