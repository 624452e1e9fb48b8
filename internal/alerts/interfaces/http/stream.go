package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	alertapp "roomwatch/internal/alerts/application"
)

type streamMessage struct {
	event   string
	payload []byte
}

// SSEBroker fans out alert notifications and badge counts to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan streamMessage]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan streamMessage]struct{})}
}

// Notify implements AlertNotifier.
func (b *SSEBroker) Notify(_ context.Context, n alertapp.Notification) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	b.broadcast(streamMessage{event: "alert", payload: payload})
}

// PublishBadge sends the unacknowledged event count; register it with Badge.OnChange.
func (b *SSEBroker) PublishBadge(count int) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(map[string]int{"count": count})
	if err != nil {
		return
	}
	b.broadcast(streamMessage{event: "badge", payload: payload})
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan streamMessage {
	if b == nil {
		return nil
	}
	ch := make(chan streamMessage, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan streamMessage) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast drops the message for clients whose buffer is full.
func (b *SSEBroker) broadcast(msg streamMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
	badge  func() int
}

// NewStreamHandler constructs a stream handler. badge, when set, supplies the
// count sent right after connecting.
func NewStreamHandler(broker *SSEBroker, badge func() int) *StreamHandler {
	return &StreamHandler{broker: broker, badge: badge}
}

// ServeHTTP handles GET /api/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	if h.badge != nil {
		payload, _ := json.Marshal(map[string]int{"count": h.badge()})
		writeFrame(w, "badge", payload)
	}
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeFrame(w, msg.event, msg.payload)
			flusher.Flush()
		case <-done:
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, event string, payload []byte) {
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
