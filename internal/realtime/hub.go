package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

// Hub tracks the WebSocket connections on this instance by channel key.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

type client struct {
	hub  *Hub
	key  string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(m *metrics.BookingMetrics, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		metrics: m,
		logger:  logger.Component("realtime.hub"),
	}
}

// Serve registers conn under key and blocks until it closes.
func (h *Hub) Serve(key string, conn *websocket.Conn) {
	c := &client{hub: h, key: key, conn: conn, send: make(chan []byte, sendQueueSize)}
	h.add(c)
	go c.writePump()
	c.readPump()
}

// Deliver queues payload for every connection of the given keys. A full
// connection queue drops the message rather than stall other recipients.
func (h *Hub) Deliver(keys []string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, key := range keys {
		for c := range h.clients[key] {
			select {
			case c.send <- payload:
				delivered++
			default:
				h.metrics.ObserveRealtime("dropped_slow_client")
				h.logger.Warn("dropping message for slow connection", "key", key)
			}
		}
	}
	return delivered
}

// Connections returns the number of live connections for key.
func (h *Hub) Connections(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

// CloseAll disconnects every client. http.Server.Shutdown does not close
// hijacked connections, so the server calls this when stopping.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.key] == nil {
		h.clients[c.key] = make(map[*client]struct{})
	}
	h.clients[c.key][c] = struct{}{}
	h.metrics.ConnectionOpened()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.key]
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.key)
	}
	close(c.send)
	h.metrics.ConnectionClosed()
}

// readPump discards client input; it only exists to process control frames.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", "key", c.key, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.metrics.ObserveRealtime("write_failed")
				return
			}
			c.hub.metrics.ObserveRealtime("delivered")
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	})
}
