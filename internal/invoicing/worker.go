package invoicing

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/events"
	kafkax "github.com/ariefcatur/go-stockflow/internal/kafka"
	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"time"
)

// Dedup remembers processed event ids; redisx.Dedup implements it.
type Dedup interface {
	MarkOnce(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// RunWorker turns billing.run.requested events into Generate calls.
type RunWorker struct {
	Generator *Generator
	Dedup     Dedup
	Events    events.Publisher
	Log       *zap.Logger
	// Identity the runs execute as; defaults to an admin named "billing-worker".
	As auth.Identity
	// Backoff returns the retry policy for infrastructure failures. Nil means
	// exponential backoff giving up after one minute.
	Backoff func() backoff.BackOff
}

// HandleRunRequested is installed as the consumer handler. A nil return
// commits the offset, so only failures worth retrying are returned.
func (w *RunWorker) HandleRunRequested(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.log().Warn("drop undecodable billing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventBillingRunRequested {
		return nil
	}

	first, err := w.Dedup.MarkOnce(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		w.log().Debug("billing run already handled", zap.String("event_id", env.EventID))
		return nil
	}

	p, err := kafkax.UnwrapPayload[events.BillingRunRequestedPayload](env.Payload)
	if err != nil {
		w.complete(ctx, env.EventID, 0, err)
		return nil
	}

	var res Result
	generate := func() error {
		var err error
		res, err = w.Generator.Generate(ctx, w.identity(), p.CustomerIDs)
		if err != nil && apperr.KindOf(err) != apperr.KindInternal {
			return backoff.Permanent(err)
		}
		return err
	}
	retrying := func(err error, wait time.Duration) {
		w.log().Warn("billing run failed, retrying",
			zap.String("event_id", env.EventID), zap.Duration("wait", wait), zap.Error(err))
	}
	err = backoff.RetryNotify(generate, backoff.WithContext(w.retryPolicy(), ctx), retrying)
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		// still failing: release the mark and hand the error to the consumer,
		// which stops before committing this offset
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := w.Dedup.Forget(fctx, env.EventID); ferr != nil {
			w.log().Warn("forget dedup mark", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	w.complete(ctx, env.EventID, res.Generated, err)
	return nil
}

func (w *RunWorker) complete(ctx context.Context, eventID string, generated int, runErr error) {
	p := events.BillingRunCompletedPayload{RequestEventID: eventID, Generated: generated}
	if runErr != nil {
		p.Error = apperr.Message(runErr)
		w.log().Warn("billing run rejected", zap.String("event_id", eventID), zap.Error(runErr))
	} else {
		w.log().Info("billing run done", zap.String("event_id", eventID), zap.Int("generated", generated))
	}
	if w.Events == nil {
		return
	}
	if err := w.Events.Publish(ctx, events.EventBillingRunCompleted, eventID, p); err != nil {
		w.log().Warn("publish billing run result", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (w *RunWorker) retryPolicy() backoff.BackOff {
	if w.Backoff != nil {
		return w.Backoff()
	}
	return backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(time.Minute))
}

func (w *RunWorker) identity() auth.Identity {
	if w.As.Role == "" {
		return auth.Admin("billing-worker")
	}
	return w.As
}

func (w *RunWorker) log() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}
