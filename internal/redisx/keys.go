package redisx

import "time"

const (
	// Idempotency place order: idem:order:create:{customer_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Lock billing run per customer: lock:billing:{customer_id} -> token
	KeyBillingLock = "lock:billing:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLInFlight    = 30 * time.Second
	TTLDedup       = 48 * time.Hour
	TTLBillingLock = 2 * time.Minute
)
