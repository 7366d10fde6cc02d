package feed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"bouncer/cmd/internal/ids"
	"bouncer/cmd/internal/metrics"
)

// Hub fans events out to connected feed clients.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Publish.
// - Publish never blocks (drops under backpressure).
// - Publish is panic-safe because Client.Send is never closed by the server.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	members map[string]*Client
}

var _ Publisher = (*Hub)(nil)

// NewHub constructs a Hub. m may be nil.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		members: make(map[string]*Client),
	}
}

// Join adds a client.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.members[client.SessionID]
	h.members[client.SessionID] = client
	h.mu.Unlock()

	if !existed {
		h.metrics.FeedClients(1)
	}
	h.log.Info("feed.client.join", "session_id", client.SessionID)
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl := h.members[sessionID]
	delete(h.members, sessionID)
	h.mu.Unlock()

	// Close after removal so no publisher holds a pointer to a closing client.
	if cl != nil {
		cl.Close()
		h.metrics.FeedClients(-1)
	}
	h.log.Info("feed.client.leave", "session_id", sessionID)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Publish fans ev out to every interested client.
// Non-blocking: a full or closing client queue drops the event for that client.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.members) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("feed.publish.encode", "kind", ev.Kind, "err", err)
		return
	}
	env := newEnvelope(TypeEvent, payload, ev.At)

	for _, m := range h.members {
		if m == nil || !m.Wants(ev.Kind) {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
		}
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      ids.MustULID(ts),
		TS:      ts,
		Payload: payload,
	}
}
