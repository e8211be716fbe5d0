package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ClientInfo describes one connected client.
type ClientInfo struct {
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ClientRegistry manages connected WebSocket clients thread-safely
type ClientRegistry struct {
	clients map[*websocket.Conn]ClientInfo
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]ClientInfo),
	}
}

// Add registers a new client connection
func (r *ClientRegistry) Add(conn *websocket.Conn, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = ClientInfo{Addr: addr, ConnectedAt: time.Now()}
}

// Remove unregisters a client connection
func (r *ClientRegistry) Remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, conn)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// List returns the connected clients, oldest first.
func (r *ClientRegistry) List() []ClientInfo {
	r.mu.RLock()
	list := make([]ClientInfo, 0, len(r.clients))
	for _, info := range r.clients {
		list = append(list, info)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectedAt.Before(list[j].ConnectedAt) })
	return list
}

// snapshot copies the connection set so callers can write without the lock.
func (r *ClientRegistry) snapshot() []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(r.clients))
	for conn := range r.clients {
		conns = append(conns, conn)
	}
	return conns
}

// ForEach executes a function for each connected client
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn)) {
	for _, conn := range r.snapshot() {
		fn(conn)
	}
}

// Broadcast sends v to every client except skip, each write bounded by
// timeout.
func (r *ClientRegistry) Broadcast(v any, skip *websocket.Conn, timeout time.Duration) {
	for _, conn := range r.snapshot() {
		if conn == skip {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = wsjson.Write(ctx, conn, v)
		cancel()
	}
}
