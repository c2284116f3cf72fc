package redisx

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestIdempotencyReturnsFirstOrder(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	idem := &Idempotency{RDB: rdb}
	cust := uuid.NewString()

	_, claimed, err := idem.Begin(ctx, cust, "req-1")
	require.NoError(t, err)
	require.True(t, claimed)

	_, _, err = idem.Begin(ctx, cust, "req-1")
	assert.ErrorIs(t, err, apperr.ErrConflict, "first request still running")

	require.NoError(t, idem.Complete(ctx, cust, "req-1", "order-9"))
	id, claimed, err := idem.Begin(ctx, cust, "req-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-9", id)

	// keys are per customer
	_, claimed, err = idem.Begin(ctx, uuid.NewString(), "req-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyAbortAllowsRetry(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	idem := &Idempotency{RDB: rdb}

	_, claimed, err := idem.Begin(ctx, "c", "k")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, idem.Abort(ctx, "c", "k"))

	_, claimed, err = idem.Begin(ctx, "c", "k")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyInFlightExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	idem := &Idempotency{RDB: rdb}

	_, _, err := idem.Begin(ctx, "c", "k")
	require.NoError(t, err)
	mr.FastForward(TTLInFlight + time.Second)

	_, claimed, err := idem.Begin(ctx, "c", "k")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMarkOnce(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	first, err := MarkOnce(ctx, rdb, "billing", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := MarkOnce(ctx, rdb, "billing", "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	ok, err := Exists(ctx, rdb, "dedup:billing:evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:billing:evt-1"))

	require.NoError(t, Forget(ctx, rdb, "billing", "evt-1"))
	first, err = MarkOnce(ctx, rdb, "billing", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestBillingLocker(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	l := &BillingLocker{RDB: rdb, TTL: time.Minute}

	release, err := l.Acquire(ctx, "cust-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "cust-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	other, err := l.Acquire(ctx, "cust-2")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, mr.Exists("lock:billing:cust-1"))

	release2, err := l.Acquire(ctx, "cust-1")
	require.NoError(t, err)
	defer release2()
}

func TestBillingLockerReleaseKeepsForeignLock(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	l := &BillingLocker{RDB: rdb, TTL: time.Second}

	release, err := l.Acquire(ctx, "cust-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = l.Acquire(ctx, "cust-1")
	require.NoError(t, err, "expired lock can be taken over")

	release() // stale holder must not free the new owner's lock
	assert.True(t, mr.Exists("lock:billing:cust-1"))
}
