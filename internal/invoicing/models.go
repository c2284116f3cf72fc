package invoicing

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

type Method string

const (
	MethodBank Method = "bank"
	MethodCard Method = "card"
	MethodUPI  Method = "upi"
	MethodCash Method = "cash"
)

func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case MethodBank, MethodCard, MethodUPI, MethodCash:
		return m, nil
	case "":
		return "", apperr.InvalidArgument("paymentMethod is required")
	default:
		return "", apperr.InvalidArgument("invalid paymentMethod %q, choose one of bank, card, upi, cash", raw)
	}
}

// Payment is set at most once per invoice.
type Payment struct {
	Method          Method
	TransactionID   string
	TransactionDate time.Time
}

type Invoice struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customerId"`
	OrderIDs        []string        `json:"orders"`
	Amount          decimal.Decimal `json:"amount"`
	Draft           bool            `json:"draft"`
	Status          Status          `json:"status"`
	DueDate         time.Time       `json:"dueDate"`
	PeriodStart     time.Time       `json:"periodStart"`
	PeriodEnd       time.Time       `json:"periodEnd"`
	PaymentMethod   Method          `json:"paymentMethod,omitempty"`
	TransactionID   string          `json:"transactionId,omitempty"`
	TransactionDate *time.Time      `json:"transactionDate,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (i Invoice) HasPayment() bool { return i.PaymentMethod != "" }

// BillableOrder is the slice of an order invoice generation reads.
type BillableOrder struct {
	ID          string
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

type Customer struct {
	ID                string
	Name              string
	PaymentPreference string
}

// CustomerDirectory returns apperr NotFound for unknown ids.
type CustomerDirectory interface {
	Customer(ctx context.Context, id string) (Customer, error)
}

type Filter struct {
	CustomerID string
	InvoiceID  string
}

type Store interface {
	// FindClaimable returns the customer's delivered orders created within w
	// that no invoice has claimed yet.
	FindClaimable(ctx context.Context, customerID string, w billing.Window) ([]BillableOrder, error)
	// CreateClaiming saves inv and claims every order in inv.OrderIDs as one
	// unit. If any of them is already claimed nothing is written and the
	// error is Conflict.
	CreateClaiming(ctx context.Context, inv Invoice) error
	Get(ctx context.Context, id string) (Invoice, error)
	// List returns matching invoices newest first.
	List(ctx context.Context, f Filter) ([]Invoice, error)
	// SetDraft fails with Conflict on a paid invoice.
	SetDraft(ctx context.Context, id string, draft bool, status Status, at time.Time) (Invoice, error)
	// RecordPayment writes p only while no method is on file; Conflict otherwise.
	RecordPayment(ctx context.Context, id string, p Payment, at time.Time) (Invoice, error)
	// MarkPaid fails with Conflict when no method is on file.
	MarkPaid(ctx context.Context, id string, at time.Time) (Invoice, error)
}

// Locker serializes generation runs for one customer across processes.
// Acquire returns apperr Conflict while someone else holds key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
