// Package memstore is an in-process implementation of every store the
// services need. One mutex guards all tables so cross-table rules (claims,
// open-order references) hold the same way a database transaction would.
package memstore

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"sync"
)

type DB struct {
	mu        sync.Mutex
	suppliers map[string]inventory.Supplier
	customers map[string]invoicing.Customer
	inventory map[string]inventory.Record
	orders    map[string]orders.Order
	invoices  map[string]invoicing.Invoice

	// FailOrderInsert makes the next order insert fail; tests use it to
	// exercise compensation.
	FailOrderInsert error
}

func New() *DB {
	return &DB{
		suppliers: map[string]inventory.Supplier{},
		customers: map[string]invoicing.Customer{},
		inventory: map[string]inventory.Record{},
		orders:    map[string]orders.Order{},
		invoices:  map[string]invoicing.Invoice{},
	}
}

func (db *DB) Inventory() *InventoryStore { return &InventoryStore{db: db} }
func (db *DB) Orders() *OrderStore         { return &OrderStore{db: db} }
func (db *DB) Invoices() *InvoiceStore     { return &InvoiceStore{db: db} }

func (db *DB) AddSupplier(s inventory.Supplier) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.suppliers[s.ID] = s
}

func (db *DB) AddCustomer(c invoicing.Customer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.customers[c.ID] = c
}

// Supplier implements inventory.Catalog.
func (db *DB) Supplier(_ context.Context, id string) (inventory.Supplier, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.suppliers[id]
	if !ok {
		return inventory.Supplier{}, apperr.NotFound("supplier not found")
	}
	return s, nil
}

// Customer implements invoicing.CustomerDirectory.
func (db *DB) Customer(_ context.Context, id string) (invoicing.Customer, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.customers[id]
	if !ok {
		return invoicing.Customer{}, apperr.NotFound("customer not found")
	}
	return c, nil
}

func (db *DB) Ping(context.Context) error { return nil }
