package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"protectedpay/internal/protectedpay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// eventHub fans normalized contract events out to websocket clients. A
// client that cannot keep up is dropped rather than slowing the others.
type eventHub struct {
	logger  *zap.Logger
	metrics *metricsRegistry

	mu      sync.Mutex
	clients map[string]*streamClient
	closed  bool
}

func newEventHub(logger *zap.Logger, metrics *metricsRegistry) *eventHub {
	return &eventHub{
		logger:  logger,
		metrics: metrics,
		clients: map[string]*streamClient{},
	}
}

func (h *eventHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.setStreamClients(len(h.clients))
	return true
}

// unregister must be called with h.mu held.
func (h *eventHub) unregister(c *streamClient) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.metrics.setStreamClients(len(h.clients))
}

func (h *eventHub) broadcast(ev protectedpay.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	h.metrics.incEvent(string(ev.Type))

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow event stream client", zap.String("client_id", c.id))
			h.unregister(c)
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.unregister(c)
	}
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &streamClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientSendSize)}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.logger.Debug("event stream client connected", zap.String("client_id", c.id))

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the peer going away.
func (h *eventHub) readPump(c *streamClient) {
	defer func() {
		h.mu.Lock()
		h.unregister(c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("event stream read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *eventHub) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
