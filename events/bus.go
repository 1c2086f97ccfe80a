// Package events is the typed in-process bus the controller broadcasts state
// changes on. UI observers (the gin and websocket adapters, or an embedding
// application) subscribe; the core publishes and never depends on any observer.
package events

import (
	"sync"
	"time"
)

// EntitlementChange is published whenever the entitlement record mutates.
type EntitlementChange struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ReadinessChange is published whenever an ad slot's readiness transitions.
type ReadinessChange struct {
	Slot      string `json:"slot"`
	Readiness string `json:"readiness"`
}

// Topic is a named broadcast channel for one payload type.
type Topic[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns an unsubscribe func. The unsubscribe
// func is idempotent.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish delivers v to every subscriber. Delivery is synchronous on the
// caller's goroutine; the topic lock is not held during callbacks, so a
// subscriber may unsubscribe itself or publish further events.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Bus bundles the controller's topics.
type Bus struct {
	Entitlement *Topic[EntitlementChange]
	AdReadiness *Topic[ReadinessChange]
}

// NewBus creates a bus with all topics initialized.
func NewBus() *Bus {
	return &Bus{
		Entitlement: NewTopic[EntitlementChange](),
		AdReadiness: NewTopic[ReadinessChange](),
	}
}
