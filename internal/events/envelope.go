package events

import (
	"encoding/json"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderPlaced          = "OrderPlaced"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventOrderCancelled       = "OrderCancelled"
	EventStockLow             = "StockLow"
	EventInvoiceGenerated     = "InvoiceGenerated"
	EventInvoicePaid          = "InvoicePaid"
	EventBillingRunRequested  = "BillingRunRequested"
	EventBillingRunCompleted  = "BillingRunCompleted"
	currentEnvelopeVersion    = 1
	headerEventType           = "x-event-type"
	headerEventVersion        = "x-event-version"
	envelopeVersionHeaderText = "1"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "stockflow-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id / invoice_id / inventory_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type LineQty struct {
	InventoryID string `json:"inventory_id"`
	Qty         int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Lines       []LineQty       `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type OrderCancelledPayload struct {
	OrderID  string    `json:"order_id"`
	Restored []LineQty `json:"restored"`
	Skipped  []string  `json:"skipped,omitempty"` // inventory ids no longer present
}

type StockLowPayload struct {
	InventoryID string `json:"inventory_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Threshold   int    `json:"threshold"`
	Status      string `json:"status"`
}

type InvoiceGeneratedPayload struct {
	InvoiceID  string          `json:"invoice_id"`
	CustomerID string          `json:"customer_id"`
	OrderIDs   []string        `json:"order_ids"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    time.Time       `json:"due_date"`
}

type InvoicePaidPayload struct {
	InvoiceID string `json:"invoice_id"`
	Method    string `json:"method"`
}

type BillingRunRequestedPayload struct {
	CustomerIDs []string `json:"customer_ids"`
}

type BillingRunCompletedPayload struct {
	RequestEventID string `json:"request_event_id"`
	Generated      int    `json:"generated"`
	Error          string `json:"error,omitempty"`
}
