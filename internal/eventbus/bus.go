// Package eventbus implements a process-wide publish/subscribe bus with two
// delivery channels: AnyThread delivers synchronously on the publisher's
// goroutine, MainThread always delivers on the goroutine running the bus's
// Looper.
//
// A Bus is constructed once by the composition root and passed to every
// component that publishes or subscribes.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Channel selects a delivery path.
type Channel int

const (
	// AnyThread delivers on the publishing goroutine with no thread affinity.
	AnyThread Channel = iota
	// MainThread delivers on the Looper goroutine.
	MainThread
)

// String returns the channel name used in logs.
func (c Channel) String() string {
	switch c {
	case AnyThread:
		return "any_thread"
	case MainThread:
		return "main_thread"
	default:
		return "unknown"
	}
}

// Bus fans out events to the subscribers registered on each channel.
type Bus struct {
	looper *Looper
	logger *slog.Logger

	mu         sync.RWMutex
	registries [2][]*Subscriber
	closed     bool
}

// NewBus creates a bus whose MainThread channel delivers on looper.
func NewBus(looper *Looper, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		looper: looper,
		logger: logger,
	}
}

// Looper returns the looper backing the MainThread channel.
func (b *Bus) Looper() *Looper {
	return b.looper
}

// Register adds s to ch's registry. A nil subscriber, an unknown channel or an
// already registered subscriber is a no-op.
func (b *Bus) Register(s *Subscriber, ch Channel) {
	if s == nil || !validChannel(ch) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, existing := range b.registries[ch] {
		if existing == s {
			return
		}
	}
	b.registries[ch] = append(b.registries[ch], s)

	b.logger.Debug("subscriber registered", "subscriber", s.Name(), "channel", ch.String())
}

// Unregister removes s from ch's registry. Removing a subscriber that is not
// registered is a no-op.
func (b *Bus) Unregister(s *Subscriber, ch Channel) {
	if s == nil || !validChannel(ch) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.registries[ch]
	for i, existing := range subs {
		if existing == s {
			// Copy so in-flight snapshots keep their view.
			next := make([]*Subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.registries[ch] = next

			b.logger.Debug("subscriber unregistered", "subscriber", s.Name(), "channel", ch.String())
			return
		}
	}
}

// IsRegistered reports whether s is currently registered on ch.
func (b *Bus) IsRegistered(s *Subscriber, ch Channel) bool {
	if s == nil || !validChannel(ch) {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, existing := range b.registries[ch] {
		if existing == s {
			return true
		}
	}
	return false
}

// Publish delivers ev to every subscriber on ch that has a handler for its
// kind.
//
// AnyThread delivery is synchronous. MainThread delivery is synchronous when
// ctx comes from the bus's looper, otherwise the delivery is posted to the
// looper and Publish returns immediately.
func (b *Bus) Publish(ctx context.Context, ev Event, ch Channel) {
	if ev == nil || !validChannel(ch) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch ch {
	case AnyThread:
		b.deliver(ctx, ev, ch)
	case MainThread:
		if b.looper == nil {
			b.logger.Error("main thread publish without looper", "kind", string(ev.Kind()))
			return
		}
		if b.looper.OnLoop(ctx) {
			b.deliver(ctx, ev, ch)
			return
		}
		if !b.looper.Post(func(loopCtx context.Context) { b.deliver(loopCtx, ev, ch) }) {
			b.logger.Warn("main thread looper closed, event dropped", "kind", string(ev.Kind()))
		}
	}
}

// Close unregisters every subscriber. Later publishes reach nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for i := range b.registries {
		b.registries[i] = nil
	}
}

func (b *Bus) snapshot(ch Channel) []*Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registries[ch]
}

func (b *Bus) deliver(ctx context.Context, ev Event, ch Channel) {
	kind := ev.Kind()
	for _, s := range b.snapshot(ch) {
		h, ok := s.handler(kind)
		if !ok {
			continue
		}
		b.invoke(ctx, s, h, ev, ch)
	}
}

// invoke isolates a handler panic to its subscriber.
func (b *Bus) invoke(ctx context.Context, s *Subscriber, h handlerFunc, ev Event, ch Channel) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Error("subscriber handler panicked",
				"subscriber", s.Name(),
				"kind", string(ev.Kind()),
				"channel", ch.String(),
				"panic", v,
			)
		}
	}()
	h(ctx, ev)
}

func validChannel(ch Channel) bool {
	return ch == AnyThread || ch == MainThread
}
