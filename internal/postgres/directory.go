package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads the supplier catalog and customers. Both tables are owned
// by the admin CRUD surface; this service only reads them.
type Directory struct{ DB *pgxpool.Pool }

func (d *Directory) Supplier(ctx context.Context, id string) (inventory.Supplier, error) {
	var s inventory.Supplier
	err := d.DB.QueryRow(ctx, `SELECT id, name FROM suppliers WHERE id=$1`, id).Scan(&s.ID, &s.Name)
	if noRows(err) {
		return inventory.Supplier{}, apperr.NotFound("supplier not found")
	}
	if err != nil {
		return inventory.Supplier{}, fmt.Errorf("get supplier: %w", err)
	}
	rows, err := d.DB.Query(ctx, `
		SELECT id, name, category, price_per_item FROM supplier_products
		WHERE supplier_id=$1 ORDER BY name`, id)
	if err != nil {
		return inventory.Supplier{}, fmt.Errorf("list supplier products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p inventory.CatalogProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PricePerItem); err != nil {
			return inventory.Supplier{}, err
		}
		s.Products = append(s.Products, p)
	}
	return s, rows.Err()
}

func (d *Directory) Customer(ctx context.Context, id string) (invoicing.Customer, error) {
	var c invoicing.Customer
	var pref *string
	err := d.DB.QueryRow(ctx, `SELECT id, name, payment_preference FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &pref)
	if noRows(err) {
		return invoicing.Customer{}, apperr.NotFound("customer not found")
	}
	if err != nil {
		return invoicing.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	if pref != nil {
		c.PaymentPreference = *pref
	}
	return c, nil
}
