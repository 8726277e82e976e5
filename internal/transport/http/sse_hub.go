package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
)

// Client represents a connected SSE client.
type Client struct {
	send chan []byte
}

// Hub fans snapshots out to every connected SSE client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a new SSE Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Register adds a new SSE client.
func (h *Hub) Register(send chan []byte) *Client {
	c := &Client{send: send}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log.Debug().Msg("SSE client connected")
	return c
}

// Unregister removes an SSE client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	log.Debug().Msg("SSE client disconnected")
}

// Broadcast sends a snapshot to all connected clients. It is registered as
// a session observer, so it never blocks: a client whose buffer is full
// misses this snapshot and catches up with the next one.
func (h *Hub) Broadcast(snap domain.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg := buildSSEMessage("snapshot", newSnapshotView(snap, domain.ListFilter{}))
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the number of connected SSE clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// buildSSEMessage formats v as an SSE frame of the given event.
func buildSSEMessage(event string, v any) []byte {
	b, _ := json.Marshal(v)
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n")
}
