package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the main server.
		return true
	},
}

// Hub fans tick updates out to connected chart clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	log     *zap.SugaredLogger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{clients: make(map[*client]bool), log: log.Named("ws")}
}

// Broadcast marshals the update and sends it to every client; slow clients
// are dropped rather than allowed to stall the simulation.
func (h *Hub) Broadcast(update any) {
	payload, err := json.Marshal(update)
	if err != nil {
		h.log.Warnw("marshal_failed", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
			h.log.Infow("slow_client_dropped", "total", len(h.clients))
		}
	}
}

func (h *Hub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade_failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Infow("client_connected", "total", total)

	go c.writeLoop()
	go h.readLoop(c)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames; the stream is one-way. It exists to
// detect disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
