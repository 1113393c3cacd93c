package order

const (
	TopicOrderConfirmed   = "order.confirmed"
	TopicInvoiceCreated   = "order.invoice.created"
	TopicPaymentReceived  = "order.payment.received"
	TopicPaymentAbandoned = "order.payment.abandoned"
	TopicOrderCancelled   = "order.cancelled"
	TopicTaskCreated      = "order.task.created"
)

// Partition key = invoice_id so all events of one payment keep order.
func PartitionKey(id string) []byte { return []byte(id) }
