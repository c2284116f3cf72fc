package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"sort"
)

type InventoryRepo struct{ DB *pgxpool.Pool }

const inventoryCols = `id, supplier_id, supplier_name, product_id, product_name, category,
	unit_price, quantity, threshold, status, created_at, updated_at`

func scanRecord(row rowScanner) (inventory.Record, error) {
	var r inventory.Record
	var status string
	err := row.Scan(&r.ID, &r.SupplierID, &r.SupplierName, &r.ProductID, &r.ProductName, &r.Category,
		&r.UnitPrice, &r.Quantity, &r.Threshold, &status, &r.CreatedAt, &r.UpdatedAt)
	r.Status = inventory.Status(status)
	return r, err
}

func (r *InventoryRepo) Get(ctx context.Context, id string) (inventory.Record, error) {
	rec, err := scanRecord(r.DB.QueryRow(ctx, `SELECT `+inventoryCols+` FROM inventory WHERE id=$1`, id))
	if noRows(err) {
		return inventory.Record{}, apperr.NotFound("inventory not found")
	}
	if err != nil {
		return inventory.Record{}, fmt.Errorf("get inventory: %w", err)
	}
	return rec, nil
}

func (r *InventoryRepo) List(ctx context.Context) ([]inventory.Record, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+inventoryCols+` FROM inventory ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()
	out := []inventory.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Upsert relies on the (supplier_id, product_id) unique key so concurrent
// first additions for a pair still end in one row.
func (r *InventoryRepo) Upsert(ctx context.Context, rec inventory.Record, setThreshold bool) (inventory.Record, error) {
	out, err := scanRecord(r.DB.QueryRow(ctx, `
		INSERT INTO inventory (id, supplier_id, supplier_name, product_id, product_name, category,
			unit_price, quantity, threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (supplier_id, product_id) DO UPDATE SET
			quantity   = inventory.quantity + EXCLUDED.quantity,
			threshold  = CASE WHEN $11 THEN EXCLUDED.threshold ELSE inventory.threshold END,
			updated_at = EXCLUDED.updated_at
		RETURNING `+inventoryCols,
		rec.ID, rec.SupplierID, rec.SupplierName, rec.ProductID, rec.ProductName, rec.Category,
		rec.UnitPrice, rec.Quantity, rec.Threshold, rec.CreatedAt, setThreshold))
	if err != nil {
		return inventory.Record{}, rangeErr(err, "upsert inventory")
	}
	return out, nil
}

// ApplyDeltas updates rows in id order to keep lock order stable across
// concurrent orders, then returns them in delta order.
func (r *InventoryRepo) ApplyDeltas(ctx context.Context, deltas []inventory.Delta) ([]inventory.Record, error) {
	idx := make([]int, len(deltas))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return deltas[idx[a]].InventoryID < deltas[idx[b]].InventoryID })

	out := make([]inventory.Record, len(deltas))
	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		for _, i := range idx {
			d := deltas[i]
			rec, err := scanRecord(tx.QueryRow(ctx, `
				UPDATE inventory SET quantity = quantity + $2, updated_at = now()
				WHERE id = $1 AND quantity + $2 >= 0
				RETURNING `+inventoryCols, d.InventoryID, d.Delta))
			if noRows(err) {
				return missingOrShort(ctx, tx, d)
			}
			if err != nil {
				return rangeErr(err, "apply delta to "+d.InventoryID)
			}
			out[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func missingOrShort(ctx context.Context, tx pgx.Tx, d inventory.Delta) error {
	var qty int
	err := tx.QueryRow(ctx, `SELECT quantity FROM inventory WHERE id=$1`, d.InventoryID).Scan(&qty)
	if noRows(err) {
		return apperr.NotFound("inventory not found: %s", d.InventoryID)
	}
	if err != nil {
		return err
	}
	return apperr.InsufficientStock("insufficient stock for inventory %s: have %d, need %d", d.InventoryID, qty, -d.Delta)
}

func (r *InventoryRepo) SetQuantity(ctx context.Context, id string, quantity int, threshold *int) (inventory.Record, error) {
	rec, err := scanRecord(r.DB.QueryRow(ctx, `
		UPDATE inventory SET quantity = $2, threshold = COALESCE($3, threshold), updated_at = now()
		WHERE id = $1
		RETURNING `+inventoryCols, id, quantity, threshold))
	if noRows(err) {
		return inventory.Record{}, apperr.NotFound("inventory not found")
	}
	if err != nil {
		return inventory.Record{}, rangeErr(err, "set inventory quantity")
	}
	return rec, nil
}

func (r *InventoryRepo) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.DB, func(tx pgx.Tx) error {
		// row lock holds off order placement against this record until commit
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM inventory WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
		if noRows(err) {
			return apperr.NotFound("inventory not found")
		}
		if err != nil {
			return err
		}
		var orderID string
		err = tx.QueryRow(ctx, `
			SELECT o.id FROM order_lines l JOIN orders o ON o.id = l.order_id
			WHERE l.inventory_id = $1 AND o.status IN ('pending', 'confirmed', 'shipped')
			LIMIT 1`, id).Scan(&orderID)
		if err == nil {
			return apperr.Conflict("inventory is referenced by open order %s", orderID)
		}
		if !noRows(err) {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM inventory WHERE id=$1`, id)
		return err
	})
}
