package events

const (
	TopicOrders              = "stockflow.orders"
	TopicInventory           = "stockflow.inventory"
	TopicInvoices            = "stockflow.invoices"
	TopicBillingRunRequested = "billing.run.requested"
	TopicBillingRunCompleted = "billing.run.completed"
)

var topicByEvent = map[string]string{
	EventOrderPlaced:         TopicOrders,
	EventOrderStatusChanged:  TopicOrders,
	EventOrderCancelled:      TopicOrders,
	EventStockLow:            TopicInventory,
	EventInvoiceGenerated:    TopicInvoices,
	EventInvoicePaid:         TopicInvoices,
	EventBillingRunRequested: TopicBillingRunRequested,
	EventBillingRunCompleted: TopicBillingRunCompleted,
}

func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

// Partition key = entity id, supaya semua event 1 entity maintain urutan.
func PartitionKey(id string) []byte { return []byte(id) }
