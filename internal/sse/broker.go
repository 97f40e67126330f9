// Package sse streams compile status changes to connected browsers.
package sse

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rathix/cashier-devkit/internal/state"
)

// StatusSource is the interface the broker uses to read the current compile
// status and subscribe to changes. Defined here at the consumer, not in the
// state package; *state.CompileStore satisfies it.
type StatusSource interface {
	GetState() state.CompileStatus
	Subscribe(listener func(state.CompileStatus)) (unsubscribe func())
}

// ClientObserver is told how many live-update clients are connected.
type ClientObserver interface {
	SetLiveClients(n int)
}

const (
	defaultKeepaliveInterval = 15 * time.Second
	statusBuffer             = 64
)

// sseEvent is an internal representation of a formatted SSE message ready to write.
type sseEvent struct {
	data []byte
}

// Broker manages SSE client connections and broadcasts compile events.
type Broker struct {
	source            StatusSource
	logger            *slog.Logger
	observer          ClientObserver
	clients           map[chan sseEvent]struct{}
	closed            bool
	keepaliveInterval time.Duration
	mu                sync.Mutex
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepalive overrides the keepalive comment interval.
func WithKeepalive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepaliveInterval = d
		}
	}
}

// WithClientObserver reports client count changes to o.
func WithClientObserver(o ClientObserver) Option {
	return func(b *Broker) {
		b.observer = o
	}
}

// NewBroker creates a new SSE broker.
func NewBroker(source StatusSource, logger *slog.Logger, opts ...Option) *Broker {
	b := &Broker{
		source:            source,
		logger:            logger,
		clients:           make(map[chan sseEvent]struct{}),
		keepaliveInterval: defaultKeepaliveInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run subscribes to the status source and broadcasts to all connected clients.
// It blocks until the context is cancelled, then disconnects every client.
func (b *Broker) Run(ctx context.Context) {
	// Store listeners run inside Dispatch, so hand statuses off without blocking.
	statuses := make(chan state.CompileStatus, statusBuffer)
	unsubscribe := b.source.Subscribe(func(s state.CompileStatus) {
		select {
		case statuses <- s:
		default:
			b.logger.Warn("SSE broker dropped status update", "phase", s.Phase, "generation", s.Generation)
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			b.closeAllClients()
			b.logger.Info("SSE broker stopped")
			return
		case s := <-statuses:
			data, ok, err := eventForStatus(s)
			if err != nil {
				b.logger.Debug("failed to format SSE event", "error", err)
				continue
			}
			if !ok {
				continue
			}
			b.broadcast(sseEvent{data: data})
			b.logger.Debug("SSE event broadcast", "phase", s.Phase, "generation", s.Generation)
		}
	}
}

func (b *Broker) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	b.observeLocked()
}

// broadcast sends an event to all connected clients using non-blocking sends.
func (b *Broker) broadcast(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// Client too slow, skip this event
		}
	}
}

// addClient registers a new client channel. It reports false once the broker
// has stopped.
func (b *Broker) addClient(ch chan sseEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[ch] = struct{}{}
	b.observeLocked()
	b.logger.Debug("SSE client connected", "clients", len(b.clients))
	return true
}

// removeClient unregisters a client channel.
func (b *Broker) removeClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	b.observeLocked()
	b.logger.Debug("SSE client disconnected", "clients", len(b.clients))
}

func (b *Broker) observeLocked() {
	if b.observer != nil {
		b.observer.SetLiveClients(len(b.clients))
	}
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP handles SSE connections: sets headers, sends the current status, and streams events.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Register client before sending the initial snapshot so no updates are missed.
	clientCh := make(chan sseEvent, 64)
	if !b.addClient(clientCh) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.removeClient(clientCh)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	initialData, err := formatSSEEvent(EventSync, statusPayload(b.source.GetState()))
	if err != nil {
		b.logger.Debug("failed to format sync event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := writeAndFlush(w, flusher, initialData); err != nil {
		b.logger.Debug("failed to write sync event", "error", err)
		return
	}

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				// Channel closed by broker shutdown.
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write SSE event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				b.logger.Debug("failed to write keepalive", "error", err)
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
