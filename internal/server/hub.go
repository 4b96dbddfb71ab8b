package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v to every client except the one given, which may be nil.
func (h *Hub) Broadcast(v any, except *client) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if c == except {
			continue
		}
		if c.send(data) {
			n++
		}
	}
	return n
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.close()
	}
}
