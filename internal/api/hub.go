package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	// The API only listens on loopback by default.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Message types pushed over the stream.
const (
	MessageNotification = "notification"
	MessageState        = "state"
	MessageSnapshots    = "snapshots"
)

// Message is one frame of the event stream.
type Message struct {
	Type     string      `json:"type"`
	DeviceID string      `json:"deviceId,omitempty"`
	Data     interface{} `json:"data"`
}

// command is sent by stream clients to narrow what they receive.
type command struct {
	Type     string `json:"type"` // subscribe, unsubscribe
	DeviceID string `json:"deviceId"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	devices map[string]bool // empty means every device
}

func (c *client) wants(deviceID string) bool {
	if deviceID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices) == 0 || c.devices[deviceID]
}

// Hub fans stream messages out to every connected websocket client.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{log: logger.Named("hub"), clients: make(map[*client]struct{})}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and starts the client's pumps.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed.", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), devices: map[string]bool{}}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("Stream client connected.", zap.Int("clients", total))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("Stream client disconnected.", zap.Int("clients", total))
}

// Broadcast queues msg for every interested client. A client whose buffer is
// full loses its oldest frame.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to encode stream message.", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.DeviceID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- data:
			default:
				h.log.Debug("Stream client is saturated, dropping frame.")
			}
		}
	}
}

// Forward broadcasts notifications until ctx is done or the channel closes.
func (h *Hub) Forward(ctx context.Context, notifications <-chan schemas.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			h.Broadcast(Message{Type: MessageNotification, DeviceID: n.DeviceID, Data: n})
		}
	}
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
		_ = c.conn.Close()
	}
	h.wg.Wait()
}

// readPump handles subscription commands until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("Stream read failed.", zap.Error(err))
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.DeviceID == "" {
			continue
		}
		c.mu.Lock()
		switch cmd.Type {
		case "subscribe":
			c.devices[cmd.DeviceID] = true
		case "unsubscribe":
			delete(c.devices, cmd.DeviceID)
		}
		c.mu.Unlock()
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
