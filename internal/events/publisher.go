package events

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"sync"
	"time"
)

// Publisher emits domain events. Publishing is fire-and-forget for callers:
// a failed publish never undoes a committed business change.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// Sender is satisfied by kafka.Producer.
type Sender interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type Emitter struct {
	sender   Sender
	producer string
	now      func() time.Time
}

func NewEmitter(sender Sender, producer string) *Emitter {
	return &Emitter{sender: sender, producer: producer, now: time.Now}
}

func (e *Emitter) Publish(ctx context.Context, eventType, key string, payload any) error {
	env, err := NewEnvelope(ctx, e.producer, eventType, key, payload, e.now())
	if err != nil {
		return err
	}
	topic, ok := TopicFor(eventType)
	if !ok {
		return fmt.Errorf("no topic for event %q", eventType)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	e.sender.Publish(topic, PartitionKey(key), b,
		kafkago.Header{Key: headerEventType, Value: []byte(eventType)},
		kafkago.Header{Key: headerEventVersion, Value: []byte(envelopeVersionHeaderText)},
	)
	return nil
}

func NewEnvelope(ctx context.Context, producer, eventType, key string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  currentEnvelopeVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: key,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// Discard drops every event. Used when no broker is configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, string, any) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Envelope
}

func (r *Recorder) Publish(ctx context.Context, eventType, key string, payload any) error {
	env, err := NewEnvelope(ctx, "recorder", eventType, key, payload, time.Now())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, env)
	return nil
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.EventType)
	}
	return out
}
