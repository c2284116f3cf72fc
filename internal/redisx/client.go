package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkOnce records id as processed by service and reports whether this call
// was the first to do so.
func MarkOnce(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), 1, TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", id, err)
	}
	return ok, nil
}

// Forget drops a dedup mark so a failed event can be processed again.
func Forget(ctx context.Context, rdb *redis.Client, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}

// Dedup binds MarkOnce/Forget to one consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

func (d *Dedup) MarkOnce(ctx context.Context, eventID string) (bool, error) {
	return MarkOnce(ctx, d.RDB, d.Service, eventID)
}

func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return Forget(ctx, d.RDB, d.Service, eventID)
}
