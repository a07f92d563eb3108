package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
)

const maxWSConnections = 200

// NodeStatusHub manages WebSocket connections and broadcasts node status.
// A single broadcaster avoids one ticker per client.
type NodeStatusHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
	nodes      *NodeService
	interval   time.Duration
}

func NewNodeStatusHub(nodes *NodeService, interval time.Duration) *NodeStatusHub {
	if interval <= 0 {
		interval = time.Second
	}
	return &NodeStatusHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		nodes:      nodes,
		interval:   interval,
	}
}

// Run starts the hub's main loop. Call it once.
func (h *NodeStatusHub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Warn().Int("max", maxWSConnections).Msg("websocket connection rejected")
				continue
			}
			h.clients[conn] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(n))
			log.Debug().Int("clients", n).Msg("websocket client registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.WSClients.Set(float64(n))

		case <-ticker.C:
			h.broadcastAll()
		}
	}
}

func (h *NodeStatusHub) broadcastAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	status := h.nodes.NodeStatus()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(status); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			go h.Unregister(conn)
		}
	}
}

func (h *NodeStatusHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Info().Int("clients", len(h.clients)).Msg("shutting down websocket hub")
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.WSClients.Set(0)
}

// Register adds conn to the broadcast set. Once the hub has stopped the
// connection is closed instead.
func (h *NodeStatusHub) Register(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Unregister never blocks past hub shutdown; shutdown already closed conn.
func (h *NodeStatusHub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *NodeStatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
