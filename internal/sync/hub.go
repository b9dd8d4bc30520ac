package sync

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 2 * time.Second

// client is one connected listener, TCP or WebSocket. Implementations must
// be safe to close twice.
type client interface {
	send(payload []byte) error
	close()
	transport() string
}

// Hub fans profile events out to every connected client. Dead clients are
// dropped on first write failure.
type Hub struct {
	mu      sync.Mutex
	clients map[client]struct{}
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
}

func NewHub() *Hub {
	return &Hub{clients: make(map[client]struct{})}
}

func (h *Hub) add(c client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// BroadcastJSON marshals v once and writes it, newline-terminated, to all
// clients.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.send(b); err != nil {
			c.close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var s Stats
	for c := range h.clients {
		switch c.transport() {
		case "tcp":
			s.TCPClients++
		case "ws":
			s.WSClients++
		}
	}
	return s
}

type tcpClient struct {
	conn net.Conn
}

func (c *tcpClient) send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	w := bufio.NewWriter(c.conn)
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func (c *tcpClient) close()            { _ = c.conn.Close() }
func (c *tcpClient) transport() string { return "tcp" }

type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) send(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsClient) close()            { _ = c.conn.Close() }
func (c *wsClient) transport() string { return "ws" }
