package eventbus

import (
	"context"
	"sync"
)

// Kind identifies an event type on the bus.
type Kind string

// Event is implemented by every value published on the bus. Kind must be
// callable on the zero value of the implementing type.
type Event interface {
	Kind() Kind
}

type handlerFunc func(ctx context.Context, ev Event)

// Subscriber is a named set of typed handlers. Its identity on the bus is the
// pointer, so registering the same Subscriber twice has no effect.
type Subscriber struct {
	name string

	mu       sync.RWMutex
	handlers map[Kind]handlerFunc
}

// NewSubscriber creates a subscriber with no handlers.
func NewSubscriber(name string) *Subscriber {
	return &Subscriber{
		name:     name,
		handlers: make(map[Kind]handlerFunc),
	}
}

// Name returns the subscriber's name, used in logs.
func (s *Subscriber) Name() string {
	return s.name
}

// On registers fn as s's handler for events of type E, replacing any earlier
// handler for the same kind.
func On[E Event](s *Subscriber, fn func(ctx context.Context, ev E)) {
	if s == nil || fn == nil {
		return
	}

	var zero E
	kind := zero.Kind()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[kind] = func(ctx context.Context, ev Event) {
		if typed, ok := ev.(E); ok {
			fn(ctx, typed)
		}
	}
}

// Handles reports whether s has a handler for kind.
func (s *Subscriber) Handles(kind Kind) bool {
	_, ok := s.handler(kind)
	return ok
}

func (s *Subscriber) handler(kind Kind) (handlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}
