package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of connected UI clients and pushes sync state
// updates to all of them. The field node UI keeps one connection open
// to render the sync badge without polling.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("📱 UI client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("📴 UI client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop the frame rather than block
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastJSON sends a message to every connected client
func (h *Hub) BroadcastJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// StatusBroadcaster bridges engine state transitions onto the hub. On
// every transition it projects a fresh snapshot and pushes it to all
// clients. The snapshot function is injected to keep this package free
// of the engine's types.
type StatusBroadcaster struct {
	hub      *Hub
	snapshot func() (interface{}, error)
}

// NewStatusBroadcaster wires the hub to a snapshot source
func NewStatusBroadcaster(hub *Hub, snapshot func() (interface{}, error)) *StatusBroadcaster {
	return &StatusBroadcaster{hub: hub, snapshot: snapshot}
}

// SyncStateChanged pushes the current sync snapshot to all clients
func (b *StatusBroadcaster) SyncStateChanged() {
	snap, err := b.snapshot()
	if err != nil {
		log.Printf("⚠️ Could not build sync snapshot for broadcast: %v", err)
		return
	}
	b.hub.BroadcastJSON(map[string]interface{}{
		"type":   "sync_status",
		"status": snap,
	})
}
