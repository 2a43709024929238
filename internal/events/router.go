package events

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"assessflow/internal/logging"
)

const (
	consumeBatch      = 64
	consumeBackoffMin = 50 * time.Millisecond
	consumeBackoffMax = 5 * time.Second
)

// Handler processes a single delivered event. Returning an error causes the
// same event to be redelivered after a backoff.
type Handler func(context.Context, Event) error

// Router stamps and fans out events.
type Router struct {
	hub    *Hub
	logger *slog.Logger

	idMu    sync.Mutex
	entropy io.Reader
}

// NewRouter builds a router whose ring buffer keeps capacity events.
func NewRouter(capacity int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{
		hub:     NewHub(capacity),
		logger:  logging.NewComponentLogger(logger, "events"),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// AddSink registers a synchronous sink.
func (r *Router) AddSink(sink Sink) {
	r.hub.AddSink(sink)
}

// Publish assigns an id, timestamp and sequence number to evt and routes it.
func (r *Router) Publish(evt Event) Event {
	if r == nil {
		return evt
	}
	now := time.Now().UTC()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}
	if evt.ID == "" {
		r.idMu.Lock()
		evt.ID = ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
		r.idMu.Unlock()
	}
	return r.hub.Publish(evt)
}

// Fetch returns buffered events after since.
func (r *Router) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	return r.hub.Fetch(ctx, since, limit, wait)
}

// Tail returns the latest buffered events.
func (r *Router) Tail(limit int) ([]Event, uint64) {
	return r.hub.Tail(limit)
}

// Consume delivers events after since to handler until ctx ends. The cursor
// only advances once handler returns nil, so a failing handler sees the same
// event again. Consume returns the last acknowledged sequence.
func (r *Router) Consume(ctx context.Context, name string, since uint64, handler Handler) (uint64, error) {
	logger := r.logger.With(logging.String("consumer", name))
	cursor := since
	for {
		batch, _, err := r.hub.Fetch(ctx, cursor, consumeBatch, true)
		if err != nil {
			return cursor, err
		}
		if len(batch) > 0 && batch[0].Sequence > cursor+1 {
			logger.Warn("event consumer fell behind ring buffer",
				logging.String(logging.FieldEventType, "consumer_gap"),
				logging.String(logging.FieldErrorHint, "increase events.buffer_size or speed up the consumer"),
				logging.String(logging.FieldImpact, "events between cursor and oldest buffered event were not delivered"),
				logging.Int64("cursor", int64(cursor)),
				logging.Int64("oldest", int64(batch[0].Sequence)),
			)
		}
		for _, evt := range batch {
			if err := r.deliver(ctx, logger, evt, handler); err != nil {
				return cursor, err
			}
			cursor = evt.Sequence
		}
	}
}

func (r *Router) deliver(ctx context.Context, logger *slog.Logger, evt Event, handler Handler) error {
	backoff := consumeBackoffMin
	for attempt := 1; ; attempt++ {
		err := handler(ctx, evt)
		if err == nil {
			return nil
		}
		logger.Warn("event handler failed; retrying",
			logging.String(logging.FieldEventType, "consumer_retry"),
			logging.String(logging.FieldErrorHint, "check the consumer's backing store"),
			logging.String(logging.FieldImpact, "event delivery delayed"),
			logging.String("event_id", evt.ID),
			logging.String("type", string(evt.Type)),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > consumeBackoffMax {
			backoff = consumeBackoffMax
		}
	}
}
