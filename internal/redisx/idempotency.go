package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const inFlight = "-"

// Idempotency remembers which order a client request key produced so a
// retried POST returns the first result instead of placing a second order.
type Idempotency struct {
	RDB *redis.Client
}

// Begin claims key for one request. It returns the order id of an earlier
// completed request, or claimed=true when the caller should go ahead.
// A request still in flight under the same key is a Conflict.
func (i *Idempotency) Begin(ctx context.Context, customerID, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
	ok, err := i.RDB.SetNX(ctx, k, inFlight, TTLInFlight).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency begin: %w", err)
	}
	if ok {
		return "", true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return i.Begin(ctx, customerID, key)
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if v == inFlight {
		return "", false, apperr.Conflict("a request with this Idempotency-Key is still being processed")
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, customerID, key, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key), orderID, TTLIdempotency).Err()
}

// Abort frees key after a failed request so the client may retry.
func (i *Idempotency) Abort(ctx context.Context, customerID, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key)).Err()
}
