// Package eventbus implements the host-wide plugin event bus: per-type
// subscriber lists guarded by a single mutex, snapshot-then-release
// publish semantics, and panic-swallowing callback dispatch, per
// spec.md §4.5. The subscribe/publish/unsubscribe shape is grounded on
// other_examples/8323f1de_HerbHall-subnetree's EventBus/Event interface;
// the mutex-guarded map idiom follows internal/apierrors/registry.go.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginhost",
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Events published, by event type.",
	}, []string{"event_type"})

	callbackPanicCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginhost",
		Subsystem: "eventbus",
		Name:      "callback_panics_total",
		Help:      "Subscriber callbacks that panicked during publish.",
	}, []string{"event_type", "plugin"})
)

// Event is a message delivered to subscribers of Type.
type Event struct {
	Type      string
	Source    string
	Timestamp time.Time
	Payload   any
}

// Handler processes one published Event.
type Handler func(Event)

type subscription struct {
	pluginID string
	handler  Handler
}

// Bus is the thread-safe, in-process plugin event bus.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscription
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string][]subscription), logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends handler to eventType's subscriber list under pluginID.
func (b *Bus) Subscribe(eventType, pluginID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{pluginID: pluginID, handler: handler})
}

// Unsubscribe removes every subscription for pluginID on eventType. When
// the list empties, the eventType key is removed entirely.
func (b *Bus) Unsubscribe(eventType, pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(eventType, pluginID)
}

// UnsubscribeAll removes every subscription for pluginID across all
// event types, collapsing any list that empties as a result.
func (b *Bus) UnsubscribeAll(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType := range b.subs {
		b.removeLocked(eventType, pluginID)
	}
}

// removeLocked must be called with b.mu held.
func (b *Bus) removeLocked(eventType, pluginID string) {
	existing, ok := b.subs[eventType]
	if !ok {
		return
	}
	kept := existing[:0:0]
	for _, s := range existing {
		if s.pluginID != pluginID {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, eventType)
		return
	}
	b.subs[eventType] = kept
}

// Publish clones the subscriber list for event.Type under lock, releases
// the lock, then invokes each callback in subscription order. A panic in
// any callback is recovered, logged, and does not stop remaining callbacks
// or propagate to the caller.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs[event.Type]))
	copy(snapshot, b.subs[event.Type])
	b.mu.Unlock()

	publishedCounter.WithLabelValues(event.Type).Inc()

	for _, s := range snapshot {
		b.invoke(event, s)
	}
}

func (b *Bus) invoke(event Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			callbackPanicCounter.WithLabelValues(event.Type, s.pluginID).Inc()
			b.logger.Error("event subscriber panicked", "event_type", event.Type, "plugin", s.pluginID, "panic", r)
		}
	}()
	s.handler(event)
}

// SubscriberCount returns the number of subscribers currently registered
// for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType])
}
