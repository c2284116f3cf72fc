package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"time"
)

type Ledger struct {
	Store   Store
	Catalog Catalog
	Events  events.Publisher
	Log     *zap.Logger
	Now     func() time.Time
}

type UpsertInput struct {
	SupplierID string
	ProductID  string
	Quantity   int
	Threshold  *int
}

// UpsertStock adds quantity to the (supplier, product) record, creating it
// from the supplier's catalog entry on first use.
func (l *Ledger) UpsertStock(ctx context.Context, caller auth.Identity, in UpsertInput) (Record, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Record{}, err
	}
	v := validation.Violations{}
	validation.ID("supplierId", in.SupplierID, v)
	validation.ID("productId", in.ProductID, v)
	if in.Quantity < 0 {
		v["quantity"] = "quantity must not be negative"
	} else if in.Quantity > validation.MaxQuantity {
		v["quantity"] = fmt.Sprintf("quantity must be at most %d", validation.MaxQuantity)
	}
	if in.Threshold != nil && (*in.Threshold < 0 || *in.Threshold > validation.MaxQuantity) {
		v["threshold"] = fmt.Sprintf("threshold must be between 0 and %d", validation.MaxQuantity)
	}
	if err := v.Err(); err != nil {
		return Record{}, err
	}

	sup, err := l.Catalog.Supplier(ctx, in.SupplierID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Record{}, apperr.NotFound("supplier not found: %s", in.SupplierID)
		}
		return Record{}, err
	}
	prod, ok := sup.Product(in.ProductID)
	if !ok {
		return Record{}, apperr.NotFound("product not found in supplier's product list")
	}
	fv := validation.Violations{}
	validation.Field("name", sup.Name, fv)
	validation.Field("category", prod.Category, fv)
	validation.Field("price", prod.PricePerItem.StringFixed(2), fv)
	validation.Required("productName", prod.Name, fv)
	if err := fv.Err(); err != nil {
		return Record{}, err
	}

	threshold := DefaultThreshold
	if in.Threshold != nil {
		threshold = *in.Threshold
	}
	now := l.now()
	rec := Record{
		ID:           uuid.NewString(),
		SupplierID:   sup.ID,
		SupplierName: sup.Name,
		ProductID:    prod.ID,
		ProductName:  prod.Name,
		Category:     prod.Category,
		UnitPrice:    prod.PricePerItem,
		Quantity:     in.Quantity,
		Threshold:    threshold,
		Status:       DeriveStatus(in.Quantity, threshold),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	out, err := l.Store.Upsert(ctx, rec, in.Threshold != nil)
	if err != nil {
		return Record{}, err
	}
	l.log().Info("stock added",
		zap.String("inventory_id", out.ID),
		zap.String("supplier_id", out.SupplierID),
		zap.String("product_id", out.ProductID),
		zap.Int("added", in.Quantity),
		zap.Int("quantity", out.Quantity))
	var prev Status
	if out.ID != rec.ID {
		prev = DeriveStatus(out.Quantity-in.Quantity, out.Threshold)
	}
	l.notifyLow(ctx, out, prev)
	return out, nil
}

func (l *Ledger) Get(ctx context.Context, caller auth.Identity, id string) (Record, error) {
	if caller.SubjectID == "" {
		return Record{}, apperr.Unauthenticated("no identity")
	}
	if _, err := validation.ParseID("inventoryId", id); err != nil {
		return Record{}, err
	}
	return l.Store.Get(ctx, id)
}

func (l *Ledger) List(ctx context.Context, caller auth.Identity) ([]Record, error) {
	if caller.SubjectID == "" {
		return nil, apperr.Unauthenticated("no identity")
	}
	return l.Store.List(ctx)
}

// AdjustQuantity applies a signed delta to one record.
func (l *Ledger) AdjustQuantity(ctx context.Context, caller auth.Identity, id string, delta int) (Record, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Record{}, err
	}
	if _, err := validation.ParseID("inventoryId", id); err != nil {
		return Record{}, err
	}
	if delta > validation.MaxQuantity || delta < -validation.MaxQuantity {
		return Record{}, apperr.InvalidArgument("delta must be at most %d", validation.MaxQuantity)
	}
	recs, err := l.apply(ctx, []Delta{{InventoryID: id, Delta: delta}})
	if err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

func (l *Ledger) SetQuantity(ctx context.Context, caller auth.Identity, id string, quantity int, threshold *int) (Record, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Record{}, err
	}
	if _, err := validation.ParseID("inventoryId", id); err != nil {
		return Record{}, err
	}
	if quantity < 0 {
		return Record{}, apperr.InvalidArgument("quantity must not be negative")
	}
	if quantity > validation.MaxQuantity {
		return Record{}, apperr.InvalidArgument("quantity must be at most %d", validation.MaxQuantity)
	}
	if threshold != nil && (*threshold < 0 || *threshold > validation.MaxQuantity) {
		return Record{}, apperr.InvalidArgument("threshold must be between 0 and %d", validation.MaxQuantity)
	}
	before, err := l.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	out, err := l.Store.SetQuantity(ctx, id, quantity, threshold)
	if err != nil {
		return Record{}, err
	}
	l.log().Info("stock corrected",
		zap.String("inventory_id", id),
		zap.Int("from", before.Quantity),
		zap.Int("to", out.Quantity))
	l.notifyLow(ctx, out, before.Status)
	return out, nil
}

func (l *Ledger) Delete(ctx context.Context, caller auth.Identity, id string) error {
	if err := auth.RequireAdmin(caller); err != nil {
		return err
	}
	if _, err := validation.ParseID("inventoryId", id); err != nil {
		return err
	}
	if err := l.Store.Delete(ctx, id); err != nil {
		return err
	}
	l.log().Info("inventory deleted", zap.String("inventory_id", id))
	return nil
}

// Lookup reads a record without a caller check; the order engine uses it
// after authorizing the order itself.
func (l *Ledger) Lookup(ctx context.Context, id string) (Record, error) {
	return l.Store.Get(ctx, id)
}

// Reserve takes stock for an order being placed. All deltas must be
// non-positive; either every record is decremented or none is.
func (l *Ledger) Reserve(ctx context.Context, deltas []Delta) ([]Record, error) {
	for _, d := range deltas {
		if d.Delta > 0 {
			return nil, fmt.Errorf("reserve: positive delta for %s", d.InventoryID)
		}
	}
	return l.apply(ctx, deltas)
}

// Restore puts stock back for cancelled order lines. Records that no longer
// exist are skipped and returned in skipped.
func (l *Ledger) Restore(ctx context.Context, deltas []Delta) (restored []Delta, skipped []string, err error) {
	present := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		if d.Delta < 0 {
			return nil, nil, fmt.Errorf("restore: negative delta for %s", d.InventoryID)
		}
		if _, err := l.Store.Get(ctx, d.InventoryID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				skipped = append(skipped, d.InventoryID)
				continue
			}
			return nil, nil, err
		}
		present = append(present, d)
	}
	if len(present) == 0 {
		return nil, skipped, nil
	}
	if _, err := l.apply(ctx, present); err != nil {
		return nil, nil, err
	}
	return present, skipped, nil
}

func (l *Ledger) apply(ctx context.Context, deltas []Delta) ([]Record, error) {
	recs, err := l.Store.ApplyDeltas(ctx, deltas)
	if err != nil {
		return nil, err
	}
	for i, r := range recs {
		l.notifyLow(ctx, r, DeriveStatus(r.Quantity-deltas[i].Delta, r.Threshold))
	}
	return recs, nil
}

// notifyLow publishes StockLow when rec has just moved into low or out of
// stock from prev.
func (l *Ledger) notifyLow(ctx context.Context, rec Record, prev Status) {
	if rec.Status == StatusInStock || rec.Status == prev || l.Events == nil {
		return
	}
	err := l.Events.Publish(ctx, events.EventStockLow, rec.ID, events.StockLowPayload{
		InventoryID: rec.ID,
		ProductName: rec.ProductName,
		Quantity:    rec.Quantity,
		Threshold:   rec.Threshold,
		Status:      string(rec.Status),
	})
	if err != nil {
		l.log().Warn("publish stock low", zap.String("inventory_id", rec.ID), zap.Error(err))
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) log() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}
