// Package notify carries sync lifecycle events outward to the UI layer and
// other listeners. Delivery is fire-and-forget: a failing sink can never
// fail the sync that produced the event.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teleregnet/syncbridge/logging"
)

// EventType enumerates the lifecycle events the engine publishes.
type EventType string

const (
	EventSyncStarted      EventType = "sync.started"
	EventSyncCompleted    EventType = "sync.completed"
	EventSyncFailed       EventType = "sync.failed"
	EventSyncStopped      EventType = "sync.stopped"
	EventConflictDetected EventType = "conflict.detected"
	EventConflictResolved EventType = "conflict.resolved"
	EventRecordDeleted    EventType = "record.deleted"
)

// Event is one notification published by the engine.
type Event struct {
	Type      EventType      `json:"type"`
	AgencyID  string         `json:"agency_id"`
	SessionID string         `json:"session_id,omitempty"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives events. Implementations may hit webhooks, queues, or the
// portal's notification table; errors are logged and dropped by the broker.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Broker fans events out to registered sinks and in-process subscribers.
// Polling is only one possible transport on top of this; the engine itself
// assumes no refresh cadence.
type Broker struct {
	logger *slog.Logger

	mu      sync.RWMutex
	sinks   []Sink
	subs    map[int]func(Event)
	nextSub int
}

// NewBroker creates a Broker delivering to the given sinks.
func NewBroker(logger *slog.Logger, sinks ...Sink) *Broker {
	if logger == nil {
		logger = logging.WithComponent(logging.Component("notify")).Logger
	}
	return &Broker{
		logger: logger,
		sinks:  sinks,
		subs:   make(map[int]func(Event)),
	}
}

// Subscribe registers an in-process callback and returns its unsubscribe
// function. Callbacks run synchronously on the publishing goroutine and
// should return quickly.
func (b *Broker) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every sink and subscriber. Sink errors are
// logged at Warn and swallowed.
func (b *Broker) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Notify(ctx, event); err != nil {
			b.logger.Warn("notification sink failed",
				slog.String("event_type", string(event.Type)),
				slog.String("agency_id", event.AgencyID),
				slog.String("error", err.Error()))
		}
	}
	for _, fn := range subs {
		fn(event)
	}
}
