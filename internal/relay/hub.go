package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

const (
	// Websocket timings
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing buffer
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub streams bus signals to websocket followers (GET /ws/signals)
// ⭐ SSOT: websocket 시그널 스트림의 클라이언트 관리는 여기서만
type Hub struct {
	bus        *signalbus.Bus
	out        *outbox
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logger.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub fed by bus
func NewHub(bus *signalbus.Bus, log *logger.Logger) *Hub {
	log = log.WithFields(map[string]interface{}{
		"component": "relay",
		"transport": "websocket",
	})
	return &Hub{
		bus:        bus,
		out:        newOutbox("websocket", log),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run subscribes to the bus and fans out until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	sub := h.bus.SubscribeAll(h.out.handle)
	defer h.bus.Unsubscribe(sub)
	defer close(h.done)

	h.logger.Info("Signal hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.logger.Info("Signal hub stopped")
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("total_clients", total).Info("Follower connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("total_clients", total).Info("Follower disconnected")

		case data := <-h.out.ch:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
					metrics.RelayMessages.WithLabelValues("websocket", "sent").Inc()
				default:
					// 느린 follower는 건너뜀 (at-most-once)
					h.logger.Warn("Dropping signal for slow follower")
					metrics.RelayMessages.WithLabelValues("websocket", "dropped").Inc()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected followers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the follower
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Websocket upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; followers never send data
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Warn("Unexpected websocket close")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
