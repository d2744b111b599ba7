package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"

	"freda-client/internal/models"
)

// Hub tracks connected sockets and the rooms they joined, and fans envelopes
// out to everyone in a room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*wsClient]bool
	clients map[*wsClient]bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*wsClient]bool),
		clients: make(map[*wsClient]bool),
	}
}

func (h *Hub) Register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) Unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for _, members := range h.rooms {
		delete(members, c)
	}
}

func (h *Hub) Join(conversationID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*wsClient]bool)
	}
	h.rooms[conversationID][c] = true
	c.rooms[conversationID] = true
}

// Broadcast sends the envelope to every member of the room, the sender
// included: the echo back to the author is part of the contract.
func (h *Hub) Broadcast(conversationID string, env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[conversationID] {
		c.enqueue(data)
	}
}

// wsClient is one accepted websocket connection.
type wsClient struct {
	conn    *websocket.Conn
	uid     string
	send    chan []byte
	rooms   map[string]bool
	limiter *rate.Limiter
	closed  sync.Once
}

func newWSClient(conn *websocket.Conn, uid string, rps int) *wsClient {
	if rps <= 0 {
		rps = 50
	}
	return &wsClient{
		conn:    conn,
		uid:     uid,
		send:    make(chan []byte, 256),
		rooms:   make(map[string]bool),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (c *wsClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// slow consumer, drop
	}
}

func (c *wsClient) close() {
	c.closed.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
		}
	}
}
