package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderConfirmed   = "OrderConfirmed"
	EventInvoiceCreated   = "InvoiceCreated"
	EventPaymentReceived  = "PaymentReceived"
	EventPaymentAbandoned = "PaymentAbandoned"
	EventOrderCancelled   = "OrderCancelled"
	EventTaskCreated      = "TaskCreated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`   // uuid
	EventType     string          `json:"event_type"` // one of the consts above
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`                 // e.g. "order-bot"
	CorrelationID string          `json:"correlation_id,omitempty"` // invoice_id or order_number
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type OrderConfirmedPayload struct {
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type InvoiceCreatedPayload struct {
	InvoiceID   string          `json:"invoice_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	PayURL      string          `json:"pay_url,omitempty"`
}

type PaymentReceivedPayload struct {
	InvoiceID   string          `json:"invoice_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Attempts    int             `json:"attempts"`
}

type PaymentAbandonedPayload struct {
	InvoiceID   string `json:"invoice_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"` // EXPIRED | ATTEMPTS_EXHAUSTED | STORE_FAILED
	Attempts    int    `json:"attempts"`
}

type OrderCancelledPayload struct {
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	InvoiceID   string `json:"invoice_id,omitempty"` // set when cancelled mid-payment
}

type TaskCreatedPayload struct {
	TaskID      string `json:"task_id"`
	InvoiceID   string `json:"invoice_id"`
	OrderNumber string `json:"order_number"`
}
