package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

var tracer = otel.Tracer("stockflow/orders")

type Engine struct {
	Orders Store
	Stock  Stock
	Events events.Publisher
	Log    *zap.Logger
	Now    func() time.Time
}

// PlaceOrder validates every line against current stock first and only then
// takes the stock for all lines in one step, so a failing line never leaves
// earlier lines decremented.
func (e *Engine) PlaceOrder(ctx context.Context, caller auth.Identity, customerID string, items []LineInput) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.place")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID), attribute.Int("order.lines", len(items)))

	o, err := e.placeOrder(ctx, caller, customerID, items)
	if err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (e *Engine) placeOrder(ctx context.Context, caller auth.Identity, customerID string, items []LineInput) (Order, error) {
	if len(items) == 0 {
		return Order{}, apperr.InvalidArgument("orderProducts need to be an array with values")
	}
	cid, err := validation.ParseID("customerId", customerID)
	if err != nil {
		return Order{}, err
	}
	if !caller.CanActFor(cid) {
		return Order{}, apperr.Forbidden("access denied")
	}
	for i, it := range items {
		if _, err := uuid.Parse(it.InventoryID); err != nil {
			return Order{}, apperr.InvalidArgument("order product index %d: invalid inventoryId", i)
		}
		if it.Quantity <= 0 {
			return Order{}, apperr.InvalidArgument("order product index %d: quantity must be a positive number", i)
		}
	}

	// Phase 1: resolve and snapshot, input order preserved.
	lines := make([]Line, 0, len(items))
	wanted := make(map[string]int, len(items))
	total := decimal.Zero
	for i, it := range items {
		rec, err := e.Stock.Lookup(ctx, it.InventoryID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return Order{}, apperr.NotFound("order product index %d: inventory item not found", i)
			}
			return Order{}, err
		}
		wanted[it.InventoryID] += it.Quantity
		if wanted[it.InventoryID] > rec.Quantity {
			return Order{}, apperr.InsufficientStock("order product index %d: insufficient stock for product %s", i, it.InventoryID)
		}
		l := Line{
			InventoryID: rec.ID,
			Name:        rec.ProductName,
			Category:    rec.Category,
			UnitPrice:   rec.UnitPrice,
			Quantity:    it.Quantity,
		}
		total = total.Add(l.Subtotal())
		lines = append(lines, l)
	}

	// Phase 2: take stock for every line at once.
	if _, err := e.Stock.Reserve(ctx, aggregate(lines, -1)); err != nil {
		return Order{}, err
	}

	now := e.now()
	o := Order{
		ID:          uuid.NewString(),
		CustomerID:  cid,
		Lines:       lines,
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Orders.Insert(ctx, o); err != nil {
		// compensate the reservation; the order never existed
		if _, _, rerr := e.Stock.Restore(ctx, aggregate(lines, 1)); rerr != nil {
			e.log().Error("restore stock after failed order insert",
				zap.String("customer_id", cid), zap.Error(rerr))
		}
		return Order{}, apperr.Internal(err, "save order")
	}

	e.log().Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", cid),
		zap.Int("lines", len(lines)),
		zap.String("total", o.TotalAmount.StringFixed(2)))
	e.publish(ctx, events.EventOrderPlaced, o.ID, events.OrderPlacedPayload{
		OrderID:     o.ID,
		CustomerID:  cid,
		Lines:       lineQty(o.Deltas(1)),
		TotalAmount: o.TotalAmount,
	})
	return o, nil
}

// UpdateStatus is the generic admin status change. Moving to cancelled
// restores stock exactly like Cancel, but from any open status.
func (e *Engine) UpdateStatus(ctx context.Context, caller auth.Identity, orderID, newStatus string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", newStatus))

	if err := auth.RequireAdmin(caller); err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	if _, err := validation.ParseID("orderId", orderID); err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	to, err := ParseStatus(newStatus)
	if err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	cur, err := e.Orders.Get(ctx, orderID)
	if err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	if cur.Status == to {
		return cur, nil
	}
	if !CanTransition(cur.Status, to) {
		err := apperr.Conflict("order status can't change from %s to %s", cur.Status, to)
		recordErr(span, err)
		return Order{}, err
	}
	out, err := e.transition(ctx, cur, to)
	if err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	return out, nil
}

// Cancel is the customer-facing cancellation: only pending orders qualify.
func (e *Engine) Cancel(ctx context.Context, caller auth.Identity, orderID string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	out, err := e.cancel(ctx, caller, orderID)
	if err != nil {
		recordErr(span, err)
		return Order{}, err
	}
	return out, nil
}

func (e *Engine) cancel(ctx context.Context, caller auth.Identity, orderID string) (Order, error) {
	if _, err := validation.ParseID("orderId", orderID); err != nil {
		return Order{}, err
	}
	cur, err := e.Orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !caller.CanActFor(cur.CustomerID) {
		return Order{}, apperr.Forbidden("access denied")
	}
	if cur.Status == StatusCancelled {
		return Order{}, apperr.Conflict("order is already cancelled")
	}
	if cur.Status != StatusPending {
		return Order{}, apperr.Conflict("order can't be cancelled now, it is already %s", cur.Status)
	}
	return e.transition(ctx, cur, StatusCancelled)
}

// transition swaps the status first so two racing cancellations cannot both
// restore stock, then restores stock when the target is cancelled.
func (e *Engine) transition(ctx context.Context, cur Order, to Status) (Order, error) {
	out, err := e.Orders.CompareAndSetStatus(ctx, cur.ID, cur.Status, to)
	if err != nil {
		return Order{}, err
	}
	if to == StatusCancelled {
		restored, skipped, err := e.Stock.Restore(ctx, cur.Deltas(1))
		if err != nil {
			if _, rerr := e.Orders.CompareAndSetStatus(ctx, cur.ID, to, cur.Status); rerr != nil {
				e.log().Error("revert status after failed restore",
					zap.String("order_id", cur.ID), zap.Error(rerr))
			}
			return Order{}, err
		}
		for _, id := range skipped {
			e.log().Warn("inventory record gone, line not restored",
				zap.String("order_id", cur.ID), zap.String("inventory_id", id))
		}
		e.publish(ctx, events.EventOrderCancelled, cur.ID, events.OrderCancelledPayload{
			OrderID:  cur.ID,
			Restored: lineQty(restored),
			Skipped:  skipped,
		})
	}
	e.log().Info("order status changed",
		zap.String("order_id", cur.ID),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)))
	e.publish(ctx, events.EventOrderStatusChanged, cur.ID, events.OrderStatusChangedPayload{
		OrderID: cur.ID,
		From:    string(cur.Status),
		To:      string(to),
	})
	return out, nil
}

// Delete purges an order. Stock is not restored: deleting is an
// administrative purge, not a business reversal. Orders an invoice has
// claimed are refused with Conflict.
func (e *Engine) Delete(ctx context.Context, caller auth.Identity, orderID string) error {
	if err := auth.RequireAdmin(caller); err != nil {
		return err
	}
	if _, err := validation.ParseID("orderId", orderID); err != nil {
		return err
	}
	if err := e.Orders.Delete(ctx, orderID); err != nil {
		return err
	}
	e.log().Info("order deleted", zap.String("order_id", orderID))
	return nil
}

func (e *Engine) Get(ctx context.Context, caller auth.Identity, orderID string) (Order, error) {
	if _, err := validation.ParseID("orderId", orderID); err != nil {
		return Order{}, err
	}
	o, err := e.Orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !caller.CanActFor(o.CustomerID) {
		return Order{}, apperr.Forbidden("access denied")
	}
	return o, nil
}

// List returns orders matching f, newest first. A customer must filter by
// their own id.
func (e *Engine) List(ctx context.Context, caller auth.Identity, f Filter) ([]Order, error) {
	if f.CustomerID != "" {
		id, err := validation.ParseID("customerId", f.CustomerID)
		if err != nil {
			return nil, err
		}
		f.CustomerID = id
	}
	if f.OrderID != "" {
		id, err := validation.ParseID("orderId", f.OrderID)
		if err != nil {
			return nil, err
		}
		f.OrderID = id
	}
	if !caller.IsAdmin() {
		if f.CustomerID == "" || !caller.CanActFor(f.CustomerID) {
			return nil, apperr.Forbidden("access denied")
		}
	}
	return e.Orders.List(ctx, f)
}

func (e *Engine) publish(ctx context.Context, eventType, key string, payload any) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, eventType, key, payload); err != nil {
		e.log().Warn("publish event", zap.String("event", eventType), zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func lineQty(ds []inventory.Delta) []events.LineQty {
	out := make([]events.LineQty, 0, len(ds))
	for _, d := range ds {
		out = append(out, events.LineQty{InventoryID: d.InventoryID, Qty: d.Delta})
	}
	return out
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.Message(err))
}
