package stream

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans state snapshots out to every connected client. Clients that fail
// a send are dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[Subscriber]struct{}
	latest  []byte
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[Subscriber]struct{})}
}

// Register adds a client and immediately sends it the latest snapshot, so a
// newly connected chart does not wait for the next engine change.
func (h *Hub) Register(client Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.Close()
		return
	}
	h.clients[client] = struct{}{}
	latest := h.latest
	h.mu.Unlock()

	if latest != nil {
		if err := client.Send(latest); err != nil {
			h.Unregister(client)
		}
	}
}

func (h *Hub) Unregister(client Subscriber) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.Close()
}

// Broadcast sends payload to every client and retains it for late joiners.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	h.latest = payload
	targets := make([]Subscriber, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			h.Unregister(c)
		}
	}
}

// Close drops every client; further registrations are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]Subscriber, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for _, c := range targets {
		c.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
