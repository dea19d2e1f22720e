package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"blinkscan/internal/metrics"
)

const viewSendBuffer = 16

// ViewHub streams scanner snapshots to WebSocket viewers. A viewer whose
// send buffer fills up is disconnected.
type ViewHub struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Blinkscan

	mu      sync.Mutex
	clients map[string]*viewClient
	last    []byte
	closed  bool
}

type viewClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewViewHub creates a hub. m may be nil.
func NewViewHub(opts Options, logger *slog.Logger, m *metrics.Blinkscan) *ViewHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewHub{
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
		clients: make(map[string]*viewClient),
	}
}

// Clients returns the number of connected viewers.
func (h *ViewHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish encodes v and queues it for every viewer. New viewers receive the
// most recent message on connect.
func (h *ViewHub) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = data
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("view client too slow, disconnecting", "client_id", id)
			h.removeLocked(id)
		}
	}
	return nil
}

// ServeHTTP upgrades a viewer connection.
func (h *ViewHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &viewClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, viewSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ViewClients.Inc()
	}
	h.logger.Info("view client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump consumes control frames until the viewer goes away.
func (h *ViewHub) readPump(c *viewClient) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c.id)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ViewHub) writePump(c *viewClient) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ViewHub) removeLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
	if h.metrics != nil {
		h.metrics.ViewClients.Dec()
	}
	h.logger.Info("view client disconnected", "client_id", id)
}

// Close disconnects all viewers and refuses new ones.
func (h *ViewHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.clients {
		h.removeLocked(id)
	}
}
