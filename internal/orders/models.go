package orders

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/shopspring/decimal"
	"time"
)

// Line is one ordered inventory item with the price, name and category it
// had when the order was placed. Later catalog changes do not touch it.
type Line struct {
	InventoryID string          `json:"inventoryId"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Lines       []Line          `json:"orderProducts"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      Status          `json:"status"`
	InvoiceID   *string         `json:"invoiceId"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (o Order) Claimed() bool { return o.InvoiceID != nil }

// Deltas returns the stock that o's lines account for, one entry per
// inventory record in first-appearance order. sign is -1 to consume, +1 to restore.
func (o Order) Deltas(sign int) []inventory.Delta {
	return aggregate(o.Lines, sign)
}

func aggregate(lines []Line, sign int) []inventory.Delta {
	idx := make(map[string]int, len(lines))
	out := make([]inventory.Delta, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.InventoryID]; ok {
			out[i].Delta += sign * l.Quantity
			continue
		}
		idx[l.InventoryID] = len(out)
		out = append(out, inventory.Delta{InventoryID: l.InventoryID, Delta: sign * l.Quantity})
	}
	return out
}

type LineInput struct {
	InventoryID string
	Quantity    int
}

// Filter fields are ANDed; empty fields are ignored.
type Filter struct {
	CustomerID string
	OrderID    string
}

type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// List returns matching orders newest first.
	List(ctx context.Context, f Filter) ([]Order, error)
	// CompareAndSetStatus moves id from `from` to `to`; Conflict when the
	// stored status is no longer `from`.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status) (Order, error)
	// Delete refuses with Conflict once an invoice has claimed the order.
	Delete(ctx context.Context, id string) error
}

// Stock is the part of the inventory ledger the engine needs.
type Stock interface {
	Lookup(ctx context.Context, id string) (inventory.Record, error)
	Reserve(ctx context.Context, deltas []inventory.Delta) ([]inventory.Record, error)
	Restore(ctx context.Context, deltas []inventory.Delta) (restored []inventory.Delta, skipped []string, err error)
}
