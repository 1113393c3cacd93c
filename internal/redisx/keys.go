package redisx

import "time"

const (
	// Dedup completed invoices: dedup:{service}:{invoice_id} -> "1".
	// Guarantees the completion pipeline creates at most one task per
	// invoice even across overlapping manual checks.
	KeyDedupInvoice = "dedup:%s:%s"

	// Cache of last seen gateway status: invoice_status:{invoice_id}.
	KeyInvoiceStatus = "invoice_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = time.Minute
)
