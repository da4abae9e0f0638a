// Package control exposes the daemon's operations over a local HTTP
// and WebSocket API. This file contains the hub that fans session
// phase events out to connected watchers.
package control

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) stop() {
	close(c.send)
}

// Hub tracks WebSocket watchers and replicates phase events to them. A
// watcher that cannot keep up is dropped; the session's own event feed
// is never held back by a slow socket.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// Add registers a connection and queues its join snapshot. It returns
// nil when the hub is already closed.
func (h *Hub) Add(conn *websocket.Conn, snapshot StateView) *wsClient {
	data, err := json.Marshal(EventMessage{
		Type:      MsgSnapshot,
		State:     snapshot,
		Timestamp: rfc3339(timeNow()),
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := newWSClient(conn)
	h.clients[c] = true
	if err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
	return c
}

// Remove detaches a connection and stops its write pump. Safe to call
// more than once per client.
func (h *Hub) Remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.stop()
	}
	h.mu.Unlock()
}

// Publish replicates one phase event to every watcher. It never
// blocks: watchers with a full buffer are disconnected. Sends happen
// under the hub lock so they cannot race a Remove closing the channel.
func (h *Hub) Publish(st session.State) {
	data, err := json.Marshal(EventMessage{
		Type:      MsgState,
		State:     stateView(st),
		Timestamp: rfc3339(timeNow()),
	})
	if err != nil {
		common.LogError("control: marshal phase event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			common.LogWarn("control: dropping slow event watcher")
			delete(h.clients, c)
			c.stop()
		}
	}
}

// Close drops all watchers. Further Publish calls are no-ops and Add
// is rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}

// ClientCount reports the number of connected watchers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleEvents upgrades the connection and streams phase events until
// the watcher hangs up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireAuth(w, r) {
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkLocalOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		common.LogWarn("control: websocket upgrade: %v", err)
		return
	}

	c := s.hub.Add(conn, s.service.State())
	if c == nil {
		conn.Close()
		return
	}
	common.LogDebug("control: event watcher connected from %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.Remove(c)
			common.LogDebug("control: event watcher disconnected from %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// checkLocalOrigin admits non-browser clients (no Origin header) and
// browser clients served from this host or loopback.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "::1"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return strings.HasPrefix(host, "[::1]:")
}
