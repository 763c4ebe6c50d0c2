package httphandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
)

const (
	eventBufferSize   = 16
	keepAliveInterval = 30 * time.Second
)

// EventStream forwards query completion events to Server-Sent Events clients.
type EventStream struct {
	bus    *eventbus.Bus
	sub    *eventbus.Subscriber
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewEventStream subscribes to repos_fetched events on the AnyThread channel.
func NewEventStream(bus *eventbus.Bus, logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}

	s := &EventStream{
		bus:     bus,
		sub:     eventbus.NewSubscriber("http-events"),
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
	}
	eventbus.On(s.sub, s.onReposFetched)
	bus.Register(s.sub, eventbus.AnyThread)

	return s
}

// Close unsubscribes from the bus and disconnects every client.
func (s *EventStream) Close() {
	s.bus.Unregister(s.sub, eventbus.AnyThread)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

// ClientCount returns the number of connected clients.
func (s *EventStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) onReposFetched(_ context.Context, ev application.ReposFetchedEvent) {
	data, err := json.Marshal(toEventResponse(ev))
	if err != nil {
		s.logger.Error("failed to marshal event", "error", err)
		return
	}

	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Kind(), data))
	s.broadcast(msg)
}

// broadcast never blocks the publisher: slow clients miss messages.
func (s *EventStream) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.clients {
		select {
		case ch <- msg:
		default:
			s.logger.Warn("event client buffer full, dropping message")
		}
	}
}

func (s *EventStream) subscribe() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, eventBufferSize)
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *EventStream) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

// ServeHTTP streams events until the client disconnects or the stream closes.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, ok := s.subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "event stream closed")
		return
	}
	defer s.unsubscribe(ch)

	// The server's write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
