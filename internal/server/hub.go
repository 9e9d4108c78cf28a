package server

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient wraps a websocket connection with a write lock so concurrent
// broadcasts do not interleave frames.
type wsClient struct {
	conn     *websocket.Conn
	userID   string
	userName string

	writeMu sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks connected clients per chat and fans frames out to them.
type Hub struct {
	mu    sync.RWMutex
	chats map[string]map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{chats: make(map[string]map[*wsClient]struct{})}
}

func (h *Hub) add(chatID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.chats[chatID]
	if !ok {
		clients = make(map[*wsClient]struct{})
		h.chats[chatID] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) remove(chatID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.chats[chatID]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.chats, chatID)
	}
}

// broadcast sends a frame to every client in the chat. Pass the sender as
// except to skip echoing, or nil to include everyone.
func (h *Hub) broadcast(chatID string, except *wsClient, frame any) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.chats[chatID]))
	for c := range h.chats[chatID] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			log.Printf("ws broadcast to %s failed: %v", c.userID, err)
		}
	}
}
