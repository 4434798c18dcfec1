// Package events is the single-process typed pub/sub the defense pipeline
// and the agent swarm both observe. It keeps the reference event bus's
// shape — per-type subscriber lists, a catch-all list, goroutine dispatch
// so publishers never block on a slow subscriber — but carries the
// domain's closed InternalEvent variant instead of an open map payload.
package events

import (
	"sync"

	"curvewarden/internal/domain"
)

// Subscriber handles one InternalEvent.
type Subscriber func(domain.InternalEvent)

// Bus manages event publishing and subscriptions for InternalEvent.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[domain.EventKind][]Subscriber
	allSubs     []Subscriber
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[domain.EventKind][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event kind. Registration order
// matters: the State Engine registers before the Policy Engine at startup
// so dev-metrics updates are visible to policy evaluation of the same
// event.
func (b *Bus) Subscribe(kind domain.EventKind, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
}

// SubscribeAll registers a catch-all subscriber invoked for every event,
// regardless of kind. The Policy Engine and the Orchestrator both use this
// to evaluate every ingested event against their own state.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish fans an event out to its per-kind subscribers and then to every
// catch-all subscriber. The subscribers run one after another, in
// registration order, on a single background goroutine, so the publisher
// never blocks and every per-kind subscriber has finished with the event
// before any catch-all subscriber sees it.
func (b *Bus) Publish(evt domain.InternalEvent) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[evt.Kind]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	go func() {
		for _, sub := range subs {
			sub(evt)
		}
	}()
}

// PublishSync is Publish without the goroutine fan-out, for tests and for
// callers that need subscriber completion before returning (none of the
// core pipeline needs this; it exists for deterministic unit tests).
func (b *Bus) PublishSync(evt domain.InternalEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[evt.Kind] {
		sub(evt)
	}
	for _, sub := range b.allSubs {
		sub(evt)
	}
}
