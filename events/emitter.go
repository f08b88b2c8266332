// Package events provides a small typed emitter whose subscriptions are
// released through an explicit handle instead of by callback identity.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is a handle to a registered listener. Unsubscribe is
// idempotent and safe to call from inside the listener itself.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// Emitter fans values out to registered listeners, synchronously and in
// registration order.
type Emitter[T any] struct {
	mu        sync.RWMutex
	order     []string
	listeners map[string]func(T)
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{listeners: make(map[string]func(T))}
}

// Subscribe registers fn and returns the handle that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) Subscription {
	id := uuid.NewString()

	e.mu.Lock()
	e.listeners[id] = fn
	e.order = append(e.order, id)
	e.mu.Unlock()

	return &subscription[T]{id: id, emitter: e}
}

// Emit delivers v to every listener registered at the time of the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of live listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

func (e *Emitter[T]) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.listeners[id]; !ok {
		return
	}
	delete(e.listeners, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

type subscription[T any] struct {
	id      string
	emitter *Emitter[T]
	once    sync.Once
}

func (s *subscription[T]) ID() string { return s.id }

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() { s.emitter.remove(s.id) })
}

// Group collects subscriptions so they can be released together.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
}

func (g *Group) Add(s Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, s)
	g.mu.Unlock()
}

// Len reports how many subscriptions are held.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close unsubscribes everything in the group and empties it.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
