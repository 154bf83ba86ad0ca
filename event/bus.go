package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basedlsg/Car-Dream/id"
)

// Publisher is the fire-and-forget notification port used by the
// orchestrator. Implementations must never block the caller on slow or
// failing subscribers.
type Publisher interface {
	Publish(expID id.ExperimentID, kind string, payload map[string]any)
}

// publishTimeout bounds the store write per event.
const publishTimeout = 5 * time.Second

// queueSize bounds how many events may be pending behind a slow store
// before Publish starts dropping.
const queueSize = 256

// Bus implements Publisher on top of an event Store. A single writer
// goroutine drains a buffered queue, so events land in the store in
// emission order. Write failures are logged and dropped.
type Bus struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *Event
	done   chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger for publish failures.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an event bus backed by the given store and starts its
// writer goroutine.
func NewBus(store Store, opts ...BusOption) *Bus {
	b := &Bus{
		store:  store,
		logger: slog.Default(),
		queue:  make(chan *Event, queueSize),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.writeLoop()
	return b
}

func (b *Bus) writeLoop() {
	defer close(b.done)
	for evt := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := b.store.PublishEvent(ctx, evt)
		cancel()
		if err != nil {
			b.logger.Warn("event publish failed",
				slog.String("experiment_id", evt.ExperimentID.String()),
				slog.String("kind", evt.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Publish enqueues the event and returns immediately. When the queue is
// full the event is dropped, never blocking the caller. Publishing on a
// drained bus is a no-op.
func (b *Bus) Publish(expID id.ExperimentID, kind string, payload map[string]any) {
	evt := New(expID, kind, payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event dropped, queue full",
			slog.String("experiment_id", expID.String()),
			slog.String("kind", kind),
		)
	}
}

// Drain stops accepting events and waits for the queue to flush. Called
// during shutdown.
func (b *Bus) Drain() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(id.ExperimentID, string, map[string]any) {}
