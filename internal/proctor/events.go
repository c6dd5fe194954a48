package proctor

import (
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventSource delivers monitored client events. Subscribe returns the
// function that removes the subscription; calling it more than once is safe.
type EventSource interface {
	Subscribe(fn func(model.EventKind)) (unsubscribe func())
}

// EventBus is an in-process EventSource fed by a transport.
type EventBus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(model.EventKind)
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]func(model.EventKind))}
}

func (b *EventBus) Subscribe(fn func(model.EventKind)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers kind to every current subscriber and returns how many
// received it. Subscribers run without the bus lock held.
func (b *EventBus) Publish(kind model.EventKind) int {
	b.mu.Lock()
	fns := make([]func(model.EventKind), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
	return len(fns)
}

// Subscribers returns the number of active subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
