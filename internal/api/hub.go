package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/alert"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 8
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type wsCommand struct {
	Type string `json:"type"`
}

// Hub pushes every alert snapshot to connected WebSocket clients. A slow client misses
// snapshots instead of stalling the alert controller.
type Hub struct {
	upgrader  websocket.Upgrader
	onDismiss func() bool
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
}

func NewHub(onDismiss func() bool, logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		onDismiss: onDismiss,
		logger:    logger.With(zap.String("component", "ws-hub")),
		clients:   make(map[*wsClient]struct{}),
	}
}

func (h *Hub) Present(s alert.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		h.logger.Error("marshal snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client channel full, dropping snapshot")
		}
	}
}

// Clients is the number of connected sockets
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.readLoop(c)
	h.writeLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) readLoop(c *wsClient) {
	defer close(c.done)

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		if cmd.Type == "dismiss" && h.onDismiss != nil {
			h.onDismiss()
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
