// Package ws fans pipeline events out to websocket subscribers.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/verid/internal/observability"
	"github.com/your-org/verid/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the reverse proxy in front of the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket subscriber. A non-empty filter restricts the
// feed to events from a single stream.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter string
}

// wants reports whether a serialized event passes the client's stream
// filter. Unparseable payloads pass through unfiltered.
func (c *Client) wants(message []byte) bool {
	if c.filter == "" {
		return true
	}
	var evt dto.WSEvent
	if err := json.Unmarshal(message, &evt); err != nil {
		return true
	}
	return evt.StreamID.String() == c.filter
}

// Hub tracks subscribers and fans broadcast events out to them. A
// subscriber that cannot keep up with the feed is dropped.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub until the process exits. Call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.fanout(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	observability.WSConnections.Inc()
	slog.Debug("ws client connected", "filter", client.filter)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	observability.WSConnections.Dec()
	slog.Debug("ws client disconnected")
}

func (h *Hub) fanout(message []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.wants(message) {
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
	}
}

// BroadcastEvent queues one event for delivery to every subscriber.
func (h *Hub) BroadcastEvent(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	h.broadcast <- data
}

// HandleWS upgrades the request and subscribes the connection. The
// stream_id query parameter, when present, scopes the feed.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		filter: c.Query("stream_id"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump discards inbound messages; its job is noticing the close.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
