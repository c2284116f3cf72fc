package invoicing_test

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/events"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/ariefcatur/go-stockflow/internal/memstore"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var ist = billing.MustCalendar(billing.DefaultTimezone).Location()

// 2024-06-10 10:00 IST, a Monday.
var runAt = time.Date(2024, 6, 10, 10, 0, 0, 0, ist)

type fixture struct {
	db      *memstore.DB
	engine  *orders.Engine
	gen     *invoicing.Generator
	events  *events.Recorder
	admin   auth.Identity
	item    inventory.Record
	monthly string
	weekly  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	sup := inventory.Supplier{
		ID:   uuid.NewString(),
		Name: "Acme Supply",
		Products: []inventory.CatalogProduct{
			{ID: uuid.NewString(), Name: "USB Cable", Category: "electronics", PricePerItem: decimal.RequireFromString("12.50")},
		},
	}
	db.AddSupplier(sup)
	f := &fixture{
		db:      db,
		events:  &events.Recorder{},
		admin:   auth.Admin(uuid.NewString()),
		monthly: uuid.NewString(),
		weekly:  uuid.NewString(),
	}
	db.AddCustomer(invoicing.Customer{ID: f.monthly, Name: "Monthly Mart"})
	db.AddCustomer(invoicing.Customer{ID: f.weekly, Name: "Weekly Store", PaymentPreference: "weekly"})

	now := func() time.Time { return runAt }
	ledger := &inventory.Ledger{Store: db.Inventory(), Catalog: db, Now: now}
	f.engine = &orders.Engine{Orders: db.Orders(), Stock: ledger, Now: now}
	f.gen = &invoicing.Generator{
		Store:     db.Invoices(),
		Customers: db,
		Calendar:  billing.MustCalendar(billing.DefaultTimezone),
		Events:    f.events,
		Now:       now,
	}
	var err error
	f.item, err = ledger.UpsertStock(context.Background(), f.admin, inventory.UpsertInput{SupplierID: sup.ID, ProductID: sup.Products[0].ID, Quantity: 1000})
	require.NoError(t, err)
	return f
}

// deliveredOrder places an order for customerID and marks it delivered.
func (f *fixture) deliveredOrder(t *testing.T, customerID string, qty int) orders.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.engine.PlaceOrder(ctx, f.admin, customerID, []orders.LineInput{{InventoryID: f.item.ID, Quantity: qty}})
	require.NoError(t, err)
	o, err = f.engine.UpdateStatus(ctx, f.admin, o.ID, "delivered")
	require.NoError(t, err)
	return o
}

func TestGenerateClaimsDeliveredOrdersOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.deliveredOrder(t, f.monthly, 2) // 25.00
	b := f.deliveredOrder(t, f.monthly, 3) // 37.50
	_, err := f.engine.PlaceOrder(ctx, f.admin, f.monthly, []orders.LineInput{{InventoryID: f.item.ID, Quantity: 1}})
	require.NoError(t, err) // still pending, not billable

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly})
	require.NoError(t, err)
	require.Equal(t, 1, res.Generated)
	inv := res.Invoices[0]
	assert.ElementsMatch(t, []string{a.ID, b.ID}, inv.OrderIDs)
	assert.Equal(t, "62.50", inv.Amount.StringFixed(2))
	assert.True(t, inv.Draft)
	assert.Equal(t, invoicing.StatusDraft, inv.Status)
	assert.Equal(t, time.Date(2024, 6, 17, 10, 0, 0, 0, ist).UTC(), inv.DueDate)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, ist).UTC(), inv.PeriodStart)

	for _, id := range []string{a.ID, b.ID} {
		o, err := f.engine.Get(ctx, f.admin, id)
		require.NoError(t, err)
		require.NotNil(t, o.InvoiceID)
		assert.Equal(t, inv.ID, *o.InvoiceID)
	}

	again, err := f.gen.Generate(ctx, f.admin, []string{f.monthly})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Generated)
	assert.Equal(t, []string{events.EventInvoiceGenerated}, f.events.Types())
}

func TestGenerateAmountMatchesOrders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliveredOrder(t, f.monthly, 1)
	f.deliveredOrder(t, f.weekly, 7)
	f.deliveredOrder(t, f.weekly, 11)

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly, f.weekly})
	require.NoError(t, err)
	require.Equal(t, 2, res.Generated)

	for _, inv := range res.Invoices {
		sum := decimal.Zero
		for _, id := range inv.OrderIDs {
			o, err := f.engine.Get(ctx, f.admin, id)
			require.NoError(t, err)
			sum = sum.Add(o.TotalAmount)
		}
		assert.True(t, sum.Equal(inv.Amount), "invoice %s: %s != %s", inv.ID, sum, inv.Amount)
	}
}

func TestGenerateRespectsBillingWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tooOld := f.deliveredOrder(t, f.weekly, 1)
	f.db.Orders().SetCreatedAt(tooOld.ID, time.Date(2024, 6, 2, 23, 59, 0, 0, ist))
	edge := f.deliveredOrder(t, f.weekly, 1)
	f.db.Orders().SetCreatedAt(edge.ID, time.Date(2024, 6, 3, 0, 0, 0, 0, ist))
	lastMonth := f.deliveredOrder(t, f.monthly, 1)
	f.db.Orders().SetCreatedAt(lastMonth.ID, time.Date(2024, 5, 31, 23, 0, 0, 0, ist))

	res, err := f.gen.Generate(ctx, f.admin, []string{f.weekly, f.monthly})
	require.NoError(t, err)
	require.Equal(t, 1, res.Generated)
	assert.Equal(t, []string{edge.ID}, res.Invoices[0].OrderIDs)
	assert.Equal(t, time.Date(2024, 6, 14, 10, 0, 0, 0, ist).UTC(), res.Invoices[0].DueDate)
}

func TestGenerateUnknownCustomerAbortsBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliveredOrder(t, f.monthly, 1)
	f.deliveredOrder(t, f.weekly, 1)
	unknown := uuid.NewString()

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly, unknown, f.weekly})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, apperr.Message(err), unknown)
	assert.Equal(t, 1, res.Generated)

	// the weekly customer was never reached
	res, err = f.gen.Generate(ctx, f.admin, []string{f.weekly})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
}

func TestGenerateUnknownPreferenceBillsMonthly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	odd := uuid.NewString()
	f.db.AddCustomer(invoicing.Customer{ID: odd, Name: "Odd Shop", PaymentPreference: "quarterly"})
	o := f.deliveredOrder(t, odd, 2)
	f.deliveredOrder(t, f.weekly, 1)

	res, err := f.gen.Generate(ctx, f.admin, []string{odd, f.weekly})
	require.NoError(t, err)
	require.Equal(t, 2, res.Generated)
	inv := res.Invoices[0]
	assert.Equal(t, []string{o.ID}, inv.OrderIDs)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, ist).UTC(), inv.PeriodStart)
	assert.Equal(t, time.Date(2024, 6, 17, 10, 0, 0, 0, ist).UTC(), inv.DueDate)
}

func TestBilledOrderCannotBeDeleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	billed := f.deliveredOrder(t, f.monthly, 2)

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly})
	require.NoError(t, err)
	require.Equal(t, 1, res.Generated)

	err = f.engine.Delete(ctx, f.admin, billed.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, apperr.Message(err), res.Invoices[0].ID)

	o, err := f.engine.Get(ctx, f.admin, billed.ID)
	require.NoError(t, err, "claimed order must survive")
	assert.True(t, o.TotalAmount.Equal(res.Invoices[0].Amount))

	// unbilled orders can still be purged
	open := f.deliveredOrder(t, f.monthly, 1)
	require.NoError(t, f.engine.Delete(ctx, f.admin, open.ID))
}

func TestGenerateValidatesInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.gen.Generate(ctx, auth.Customer(f.monthly), []string{f.monthly})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.gen.Generate(ctx, f.admin, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.gen.Generate(ctx, f.admin, []string{f.monthly, "42"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Generated, "no billable orders is not an error")
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(), error) {
	return nil, apperr.Conflict("lock held")
}

func TestGenerateLockedCustomerConflicts(t *testing.T) {
	f := setup(t)
	f.deliveredOrder(t, f.monthly, 1)
	f.gen.Locker = heldLocker{}

	_, err := f.gen.Generate(context.Background(), f.admin, []string{f.monthly})
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, apperr.Message(err), f.monthly)
}

// racingStore lets a rival run claim the orders between scan and claim.
type racingStore struct {
	*memstore.InvoiceStore
	raced bool
}

func (s *racingStore) CreateClaiming(ctx context.Context, inv invoicing.Invoice) error {
	if !s.raced {
		s.raced = true
		rival := inv
		rival.ID = uuid.NewString()
		if err := s.InvoiceStore.CreateClaiming(ctx, rival); err != nil {
			return err
		}
	}
	return s.InvoiceStore.CreateClaiming(ctx, inv)
}

func TestGenerateLosingClaimRaceDoesNotDoubleBill(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	o := f.deliveredOrder(t, f.monthly, 4)
	f.gen.Store = &racingStore{InvoiceStore: f.db.Invoices()}

	res, err := f.gen.Generate(ctx, f.admin, []string{f.monthly})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Generated)

	all, err := f.gen.List(ctx, f.admin, invoicing.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{o.ID}, all[0].OrderIDs)
}

func generated(t *testing.T, f *fixture) invoicing.Invoice {
	t.Helper()
	f.deliveredOrder(t, f.monthly, 2)
	res, err := f.gen.Generate(context.Background(), f.admin, []string{f.monthly})
	require.NoError(t, err)
	require.Equal(t, 1, res.Generated)
	return res.Invoices[0]
}

func TestApprove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv := generated(t, f)

	got, err := f.gen.Approve(ctx, f.admin, inv.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Draft)
	assert.Equal(t, invoicing.StatusPending, got.Status)
	assert.True(t, inv.Amount.Equal(got.Amount))

	got, err = f.gen.Approve(ctx, f.admin, inv.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Draft)
	assert.Equal(t, invoicing.StatusDraft, got.Status)

	_, err = f.gen.Approve(ctx, f.admin, uuid.NewString(), false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.gen.Approve(ctx, auth.Customer(f.monthly), inv.ID, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPaymentDetailsAreSetOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv := generated(t, f)

	got, err := f.gen.UpdatePaymentDetails(ctx, f.admin, inv.ID, invoicing.PaymentInput{
		Method: "upi", TransactionID: "UPI-778812", TransactionDate: "2024-06-12",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicing.MethodUPI, got.PaymentMethod)
	assert.Equal(t, "UPI-778812", got.TransactionID)
	require.NotNil(t, got.TransactionDate)

	_, err = f.gen.UpdatePaymentDetails(ctx, f.admin, inv.ID, invoicing.PaymentInput{
		Method: "card", TransactionID: "CARD-0001", TransactionDate: "2024-06-13",
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	after, err := f.gen.Get(ctx, f.admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.MethodUPI, after.PaymentMethod)
	assert.Equal(t, "UPI-778812", after.TransactionID)
	assert.Equal(t, *got.TransactionDate, *after.TransactionDate)
}

func TestPaymentDetailsValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv := generated(t, f)

	tests := []struct {
		name string
		in   invoicing.PaymentInput
	}{
		{"unknown method", invoicing.PaymentInput{Method: "cheque", TransactionID: "CHQ-1234"}},
		{"missing method", invoicing.PaymentInput{}},
		{"bank without transaction", invoicing.PaymentInput{Method: "bank"}},
		{"bad date", invoicing.PaymentInput{Method: "card", TransactionID: "CARD-1234", TransactionDate: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gen.UpdatePaymentDetails(ctx, f.admin, inv.ID, tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}

	_, err := f.gen.UpdatePaymentDetails(ctx, f.admin, uuid.NewString(), invoicing.PaymentInput{Method: "cash"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := f.gen.UpdatePaymentDetails(ctx, f.admin, inv.ID, invoicing.PaymentInput{Method: "CASH"})
	require.NoError(t, err, "cash needs no transaction id")
	assert.Equal(t, invoicing.MethodCash, got.PaymentMethod)
	assert.Empty(t, got.TransactionID)
}

func TestMarkPaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv := generated(t, f)

	_, err := f.gen.MarkPaid(ctx, f.admin, inv.ID)
	require.ErrorIs(t, err, apperr.ErrConflict, "no payment on file")

	_, err = f.gen.UpdatePaymentDetails(ctx, f.admin, inv.ID, invoicing.PaymentInput{Method: "cash"})
	require.NoError(t, err)
	got, err := f.gen.MarkPaid(ctx, f.admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPaid, got.Status)

	again, err := f.gen.MarkPaid(ctx, f.admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPaid, again.Status)

	_, err = f.gen.Approve(ctx, f.admin, inv.ID, true)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Equal(t, []string{events.EventInvoiceGenerated, events.EventInvoicePaid}, f.events.Types())
}

func TestCustomerSeesOnlyOwnInvoices(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv := generated(t, f)
	owner := auth.Customer(f.monthly)
	stranger := auth.Customer(f.weekly)

	_, err := f.gen.Get(ctx, owner, inv.ID)
	require.NoError(t, err)
	_, err = f.gen.Get(ctx, stranger, inv.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	mine, err := f.gen.List(ctx, owner, invoicing.Filter{CustomerID: f.monthly})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	_, err = f.gen.List(ctx, stranger, invoicing.Filter{CustomerID: f.monthly})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.gen.List(ctx, owner, invoicing.Filter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
