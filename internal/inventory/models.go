package inventory

import (
	"context"
	"github.com/shopspring/decimal"
	"time"
)

type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

const DefaultThreshold = 50

// DeriveStatus is recomputed on every save.
func DeriveStatus(quantity, threshold int) Status {
	switch {
	case quantity == 0:
		return StatusOutOfStock
	case quantity <= threshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Record is the stock held for one (supplier, product) pair. Supplier and
// product display fields are copied from the catalog when the record is created.
type Record struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplierId"`
	SupplierName string          `json:"supplierName"`
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	Category     string          `json:"category"`
	UnitPrice    decimal.Decimal `json:"productPrice"`
	Quantity     int             `json:"quantity"`
	Threshold    int             `json:"threshold"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CatalogView is what customers may see of a record.
type CatalogView struct {
	ID          string          `json:"id"`
	ProductName string          `json:"productName"`
	Category    string          `json:"category"`
	UnitPrice   decimal.Decimal `json:"productPrice"`
	Quantity    int             `json:"quantity"`
	Status      Status          `json:"status"`
}

func (r Record) CatalogView() CatalogView {
	return CatalogView{
		ID:          r.ID,
		ProductName: r.ProductName,
		Category:    r.Category,
		UnitPrice:   r.UnitPrice,
		Quantity:    r.Quantity,
		Status:      r.Status,
	}
}

// Delta is a signed quantity change for one record.
type Delta struct {
	InventoryID string
	Delta       int
}

// CatalogProduct is an entry of a supplier's product list.
type CatalogProduct struct {
	ID           string
	Name         string
	Category     string
	PricePerItem decimal.Decimal
}

type Supplier struct {
	ID       string
	Name     string
	Products []CatalogProduct
}

func (s Supplier) Product(id string) (CatalogProduct, bool) {
	for _, p := range s.Products {
		if p.ID == id {
			return p, true
		}
	}
	return CatalogProduct{}, false
}

// Catalog looks suppliers up by id; it returns apperr NotFound when absent.
type Catalog interface {
	Supplier(ctx context.Context, id string) (Supplier, error)
}

// Store persists inventory records. Implementations must make Upsert keep
// one row per (supplier, product) and ApplyDeltas all-or-nothing.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	// Upsert inserts rec, or adds rec.Quantity to the existing record of the
	// same pair, overwriting its threshold when setThreshold is true.
	Upsert(ctx context.Context, rec Record, setThreshold bool) (Record, error)
	// ApplyDeltas changes every record or none and returns the updated
	// records in delta order. A result below zero fails with
	// InsufficientStock, a missing record with NotFound.
	ApplyDeltas(ctx context.Context, deltas []Delta) ([]Record, error)
	SetQuantity(ctx context.Context, id string, quantity int, threshold *int) (Record, error)
	// Delete refuses with Conflict while a pending, confirmed or shipped
	// order still references the record.
	Delete(ctx context.Context, id string) error
}
