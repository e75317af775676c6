// Package eventbus declares the publish/subscribe contract threaded through
// the bootstrap (spec.md §9 design note "Global event bus": "Replace a
// process-wide emitter with an explicit bus handle threaded through the
// bootstrap"). The engine and executor only publish; the bootstrap only
// subscribes (spec.md §6). InMemoryBus is the default in-process
// implementation — a host composing a real message broker in front of this
// contract is out of scope, mirroring how the teacher leaves the action
// dispatcher's HTTP delivery out of the scheduler package itself.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Event is the envelope every publish carries: a string subject (spec.md §6
// "Subject names are string-keyed") and a plain-record payload documented
// at its emission site.
type Event struct {
	ID      string
	Subject string
	Payload any
}

// Handler receives events published to a subject it subscribed to.
type Handler func(Event)

// Bus is the publish/subscribe contract. Publish is synchronous: handlers
// run on the publisher's goroutine, the same discipline the engine and
// executor already apply to their own timer/queue callbacks (spec.md §5 —
// suspension points are explicit, not hidden inside a bus implementation).
type Bus interface {
	Publish(subject string, payload any)
	Subscribe(subject string, h Handler) (unsubscribe func())
}

// InMemoryBus is a process-local Bus backed by a subject-keyed map of
// handlers, guarded by a mutex the way the teacher guards its connection
// pool state (internal/infrastructure/postgres) and the health checker
// guards its last observed snapshot.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string]map[string]Handler)}
}

// Publish invokes every handler currently subscribed to subject, in
// unspecified order, each wrapped in its own panic guard so one misbehaving
// observer cannot take down the publisher (spec.md §7: "the engine never
// panics into the host process").
func (b *InMemoryBus) Publish(subject string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[subject]))
	for _, h := range b.handlers[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	evt := Event{ID: uuid.NewString(), Subject: subject, Payload: payload}
	for _, h := range handlers {
		invokeSafely(h, evt)
	}
}

func invokeSafely(h Handler, evt Event) {
	defer func() { _ = recover() }()
	h(evt)
}

// Subscribe registers h for subject and returns a function that removes it.
func (b *InMemoryBus) Subscribe(subject string, h Handler) func() {
	b.mu.Lock()
	if b.handlers[subject] == nil {
		b.handlers[subject] = make(map[string]Handler)
	}
	id := uuid.NewString()
	b.handlers[subject][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers[subject], id)
		b.mu.Unlock()
	}
}
