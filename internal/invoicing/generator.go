package invoicing

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"time"
)

var tracer = otel.Tracer("stockflow/invoicing")

// claimAttempts bounds how often one customer is re-scanned after losing a
// claim race to a concurrent run.
const claimAttempts = 3

type Generator struct {
	Store     Store
	Customers CustomerDirectory
	Calendar  *billing.Calendar
	Locker    Locker // optional
	Events    events.Publisher
	Log       *zap.Logger
	Now       func() time.Time
}

type Result struct {
	Generated int       `json:"generated"`
	Invoices  []Invoice `json:"invoices"`
}

// Generate bills every listed customer in turn. An unknown customer stops
// the run with an error naming it; invoices already created stay.
func (g *Generator) Generate(ctx context.Context, caller auth.Identity, customerIDs []string) (Result, error) {
	ctx, span := tracer.Start(ctx, "invoicing.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("billing.customers", len(customerIDs)))

	res, err := g.generate(ctx, caller, customerIDs)
	span.SetAttributes(attribute.Int("billing.generated", res.Generated))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	return res, err
}

func (g *Generator) generate(ctx context.Context, caller auth.Identity, customerIDs []string) (Result, error) {
	res := Result{Invoices: []Invoice{}}
	if err := auth.RequireAdmin(caller); err != nil {
		return res, err
	}
	if len(customerIDs) == 0 {
		return res, apperr.InvalidArgument("customerIds need to be an array with values")
	}
	ids := make([]string, 0, len(customerIDs))
	for _, raw := range customerIDs {
		id, err := validation.ParseID("customerId", raw)
		if err != nil {
			return res, apperr.InvalidArgument("invalid customerId: %s", raw)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		inv, ok, err := g.generateFor(ctx, id)
		if err != nil {
			g.log().Warn("billing run stopped",
				zap.String("customer_id", id),
				zap.Int("generated", res.Generated),
				zap.Error(err))
			return res, err
		}
		if ok {
			res.Generated++
			res.Invoices = append(res.Invoices, inv)
		}
	}
	return res, nil
}

func (g *Generator) generateFor(ctx context.Context, customerID string) (Invoice, bool, error) {
	cust, err := g.Customers.Customer(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Invoice{}, false, apperr.NotFound("customer not found: %s", customerID)
		}
		return Invoice{}, false, err
	}
	pref, err := billing.ParsePreference(cust.PaymentPreference)
	if err != nil {
		// anything but weekly bills monthly
		g.log().Warn("unknown payment preference, billing monthly",
			zap.String("customer_id", customerID),
			zap.String("preference", cust.PaymentPreference))
		pref = billing.Monthly
	}

	if g.Locker != nil {
		release, err := g.Locker.Acquire(ctx, customerID)
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return Invoice{}, false, apperr.Conflict("billing already running for customer: %s", customerID)
			}
			return Invoice{}, false, err
		}
		defer release()
	}

	for attempt := 1; ; attempt++ {
		inv, ok, err := g.claimOnce(ctx, customerID, pref)
		if err == nil || !errors.Is(err, apperr.ErrConflict) || attempt == claimAttempts {
			return inv, ok, err
		}
		g.log().Info("claim lost to concurrent run, rescanning",
			zap.String("customer_id", customerID), zap.Int("attempt", attempt))
	}
}

func (g *Generator) claimOnce(ctx context.Context, customerID string, pref billing.Preference) (Invoice, bool, error) {
	now := g.now()
	w := g.Calendar.Window(pref, now)
	orders, err := g.Store.FindClaimable(ctx, customerID, w)
	if err != nil {
		return Invoice{}, false, err
	}
	if len(orders) == 0 {
		return Invoice{}, false, nil
	}

	amount := decimal.Zero
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		amount = amount.Add(o.TotalAmount)
		ids = append(ids, o.ID)
	}
	inv := Invoice{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		OrderIDs:    ids,
		Amount:      amount,
		Draft:       true,
		Status:      StatusDraft,
		DueDate:     g.Calendar.DueDate(pref, now),
		PeriodStart: w.Start,
		PeriodEnd:   w.End,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.Store.CreateClaiming(ctx, inv); err != nil {
		return Invoice{}, false, err
	}

	g.log().Info("invoice generated",
		zap.String("invoice_id", inv.ID),
		zap.String("customer_id", customerID),
		zap.String("preference", string(pref)),
		zap.Int("orders", len(ids)),
		zap.String("amount", amount.StringFixed(2)))
	g.publish(ctx, events.EventInvoiceGenerated, inv.ID, events.InvoiceGeneratedPayload{
		InvoiceID:  inv.ID,
		CustomerID: customerID,
		OrderIDs:   ids,
		Amount:     amount,
		DueDate:    inv.DueDate,
	})
	return inv, true, nil
}

// Approve sets the draft flag; a non-draft invoice is pending collection.
func (g *Generator) Approve(ctx context.Context, caller auth.Identity, invoiceID string, draft bool) (Invoice, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Invoice{}, err
	}
	if _, err := validation.ParseID("invoiceId", invoiceID); err != nil {
		return Invoice{}, err
	}
	status := StatusPending
	if draft {
		status = StatusDraft
	}
	inv, err := g.Store.SetDraft(ctx, invoiceID, draft, status, g.now())
	if err != nil {
		return Invoice{}, err
	}
	g.log().Info("invoice approval changed", zap.String("invoice_id", invoiceID), zap.Bool("draft", draft))
	return inv, nil
}

type PaymentInput struct {
	Method          string
	TransactionID   string
	TransactionDate string
}

// UpdatePaymentDetails records how the invoice was paid. It can only be done once.
func (g *Generator) UpdatePaymentDetails(ctx context.Context, caller auth.Identity, invoiceID string, in PaymentInput) (Invoice, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Invoice{}, err
	}
	if _, err := validation.ParseID("invoiceId", invoiceID); err != nil {
		return Invoice{}, err
	}
	cur, err := g.Store.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if cur.HasPayment() {
		return Invoice{}, apperr.Conflict("payment details already recorded for this invoice")
	}

	m, err := ParseMethod(in.Method)
	if err != nil {
		return Invoice{}, err
	}
	p := Payment{Method: m}
	v := validation.Violations{}
	if m != MethodCash {
		validation.Field("transactionId", in.TransactionID, v)
		p.TransactionID = in.TransactionID
	}
	if in.TransactionDate != "" {
		d, err := validation.Date("transactionDate", in.TransactionDate)
		if err != nil {
			v["transactionDate"] = apperr.Message(err)
		}
		p.TransactionDate = d
	} else {
		p.TransactionDate = g.now()
	}
	if err := v.Err(); err != nil {
		return Invoice{}, err
	}

	out, err := g.Store.RecordPayment(ctx, invoiceID, p, g.now())
	if err != nil {
		return Invoice{}, err
	}
	g.log().Info("payment recorded", zap.String("invoice_id", invoiceID), zap.String("method", string(m)))
	return out, nil
}

func (g *Generator) MarkPaid(ctx context.Context, caller auth.Identity, invoiceID string) (Invoice, error) {
	if err := auth.RequireAdmin(caller); err != nil {
		return Invoice{}, err
	}
	if _, err := validation.ParseID("invoiceId", invoiceID); err != nil {
		return Invoice{}, err
	}
	cur, err := g.Store.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !cur.HasPayment() {
		return Invoice{}, apperr.Conflict("no payment recorded yet, can't mark invoice as paid")
	}
	if cur.Status == StatusPaid {
		return cur, nil
	}
	out, err := g.Store.MarkPaid(ctx, invoiceID, g.now())
	if err != nil {
		return Invoice{}, err
	}
	g.log().Info("invoice paid", zap.String("invoice_id", invoiceID))
	g.publish(ctx, events.EventInvoicePaid, invoiceID, events.InvoicePaidPayload{
		InvoiceID: invoiceID,
		Method:    string(out.PaymentMethod),
	})
	return out, nil
}

func (g *Generator) Get(ctx context.Context, caller auth.Identity, invoiceID string) (Invoice, error) {
	if _, err := validation.ParseID("invoiceId", invoiceID); err != nil {
		return Invoice{}, err
	}
	inv, err := g.Store.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !caller.CanActFor(inv.CustomerID) {
		return Invoice{}, apperr.Forbidden("access denied")
	}
	return inv, nil
}

func (g *Generator) List(ctx context.Context, caller auth.Identity, f Filter) ([]Invoice, error) {
	if f.CustomerID != "" {
		id, err := validation.ParseID("customerId", f.CustomerID)
		if err != nil {
			return nil, err
		}
		f.CustomerID = id
	}
	if f.InvoiceID != "" {
		id, err := validation.ParseID("invoiceId", f.InvoiceID)
		if err != nil {
			return nil, err
		}
		f.InvoiceID = id
	}
	if !caller.IsAdmin() && (f.CustomerID == "" || !caller.CanActFor(f.CustomerID)) {
		return nil, apperr.Forbidden("access denied")
	}
	return g.Store.List(ctx, f)
}

func (g *Generator) publish(ctx context.Context, eventType, key string, payload any) {
	if g.Events == nil {
		return
	}
	if err := g.Events.Publish(ctx, eventType, key, payload); err != nil {
		g.log().Warn("publish event", zap.String("event", eventType), zap.String("key", key), zap.Error(err))
	}
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Generator) log() *zap.Logger {
	if g.Log == nil {
		return zap.NewNop()
	}
	return g.Log
}
