// Package ws carries the real-time side of the chat: a broadcast hub
// fanning typed events out to every connection, presence tracking, and
// the per-connection read/write pumps over gorilla websockets.
package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub fans events out to every live connection. Delivery is best
// effort: events are enqueued synchronously against a snapshot of the
// current connections, nothing is retried, and nothing is replayed to
// clients that connect later.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[*Client]struct{}), log: log}
}

// Broadcast marshals the event once and enqueues it on every current
// connection. A client whose buffer is full is treated as dead and
// disconnected.
func (h *Hub) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("marshal broadcast event", zap.Error(err))
		return
	}
	for _, client := range h.snapshot() {
		if !client.enqueue(data) {
			client.shutdown()
		}
	}
}

// ClientCount returns the number of live connections, bound or not.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) snapshot() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}
