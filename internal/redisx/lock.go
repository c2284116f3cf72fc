package redisx

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"time"
)

// release only deletes the lock while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// BillingLocker is a SET NX lock per customer, held for one generation run.
type BillingLocker struct {
	RDB *redis.Client
	TTL time.Duration
	Log *zap.Logger
}

func (l *BillingLocker) Acquire(ctx context.Context, customerID string) (func(), error) {
	ttl := l.TTL
	if ttl == 0 {
		ttl = TTLBillingLock
	}
	key := fmt.Sprintf(KeyBillingLock, customerID)
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire billing lock: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("billing lock held for %s", customerID)
	}
	return func() {
		// ctx may already be cancelled when the run ends
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.RDB, []string{key}, token).Err(); err != nil && l.Log != nil {
			l.Log.Warn("release billing lock", zap.String("customer_id", customerID), zap.Error(err))
		}
	}, nil
}
