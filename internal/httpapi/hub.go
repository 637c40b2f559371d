package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"power-agent/internal/domain"
)

const (
	sendBuffer = 16
	writeWait  = 2 * time.Second
	// close code sent when the stream token does not match
	closeUnauthorized = 4001
)

// Hub fans telemetry out to WebSocket clients. It satisfies the agent's
// Broadcaster.
type Hub struct {
	token    string
	l        *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

type wsMessage struct {
	Control json.RawMessage `json:"control"`
}

func NewHub(token string, logger *slog.Logger) *Hub {
	return &Hub{
		token:   token,
		l:       logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast never blocks; a client whose buffer is full is dropped.
func (h *Hub) Broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.l.Warn("ws client too slow, dropping", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, ctl ControlHandler) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("ws upgrade failed", "err", err)
		return
	}
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		msg := websocket.FormatCloseMessage(closeUnauthorized, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.l.Debug("ws client connected", "remote", conn.RemoteAddr().String())

	go h.write(c)
	h.read(c, ctl)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) write(c *wsClient) {
	defer c.conn.Close()
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) read(c *wsClient, ctl ControlHandler) {
	defer h.remove(c)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.l.Debug("ws read failed", "err", err)
			}
			return
		}
		var m wsMessage
		if err := json.Unmarshal(payload, &m); err != nil || len(m.Control) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = ctl.HandleControl(ctx, domain.SourceWS, m.Control)
		cancel()
	}
}
