package kafka

import (
	"context"
	"fmt"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"sync"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches messages and fans them out to the worker pool. Every
// partition maps to exactly one worker, so offsets are committed in order and
// only after the handler succeeds.
//
// A handler or commit failure stops the consumer: nothing past the failed
// offset is committed and Start returns the error, leaving the message to be
// redelivered from the last committed offset. Cancelling ctx returns nil.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	run, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if run.Err() != nil {
					continue // stopped; leave it uncommitted
				}
				if err := h(ctx, m); err != nil {
					c.log.Error("consumer handler failed, stopping",
						zap.String("topic", m.Topic),
						zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset),
						zap.Error(err))
					stop(fmt.Errorf("handle %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err))
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					stop(fmt.Errorf("commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err))
				}
			}
		}(lanes[i])
	}

	var fetchErr error
	for fetchErr == nil {
		m, err := c.r.FetchMessage(run)
		if err != nil {
			fetchErr = err
			break
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-run.Done():
			fetchErr = run.Err()
		}
	}
	for _, l := range lanes {
		close(l)
	}
	wg.Wait()

	if run.Err() == nil {
		return fetchErr
	}
	// kecilkan noise saat shutdown
	if cause := context.Cause(run); ctx.Err() == nil || cause != context.Cause(ctx) {
		return cause
	}
	return nil
}
