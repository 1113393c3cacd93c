package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoInscription is the canonical marker stored when the user declines
// an inscription ("no"/"нет" at the additional-info step).
const NoInscription = "Без надписи"

type Item struct {
	Localization string `json:"localization"` // catalog label, see catalog.go
	Currency     string `json:"currency"`     // catalog code
}

// Order is the aggregate a conversation builds up field by field.
// TotalAmount is derived from ItemCount only via ComputeTotal; it is
// set exactly once, when the invoice for the order is requested.
type Order struct {
	OrderNumber    string          `json:"order_number"`
	ItemCount      int             `json:"item_count"`
	Items          []Item          `json:"items"`
	Bank           string          `json:"bank"`
	WinningAmount  decimal.Decimal `json:"winning_amount"`
	AdditionalInfo string          `json:"additional_info"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Snapshot returns a deep copy, so a live session can keep mutating
// its order without touching what an issued invoice was priced on.
func (o Order) Snapshot() Order {
	cp := o
	cp.Items = make([]Item, len(o.Items))
	copy(cp.Items, o.Items)
	return cp
}
