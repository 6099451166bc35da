package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

const (
	// Reconnect settings
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 1 * time.Minute

	// Ping/Pong settings
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// Handler receives decoded ticks on the read goroutine
type Handler func(tick contracts.Tick)

// subscribeMsg asks the feed for one instrument
type subscribeMsg struct {
	Action     string `json:"action"`
	Instrument string `json:"instrument"`
}

// Client streams last-price ticks from a websocket feed
// ⭐ SSOT: 시세 websocket 연결은 여기서만
type Client struct {
	url        string
	instrument string
	handler    Handler
	dialer     *websocket.Dialer
	now        func() time.Time
	logger     *logger.Logger
}

// NewClient creates a feed client for one instrument
func NewClient(url, instrument string, handler Handler, log *logger.Logger) *Client {
	return &Client{
		url:        url,
		instrument: strings.ToUpper(instrument),
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		now:        time.Now,
		logger: log.WithFields(map[string]interface{}{
			"component":  "feed",
			"instrument": instrument,
		}),
	}
}

// Run connects and re-connects with backoff until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	c.logger.WithField("url", c.url).Info("Starting tick feed")

	delay := reconnectDelay
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Tick feed stopped")
			return nil
		}
		c.logger.WithError(err).WithField("delay", delay.String()).Warn("Tick feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Instrument: c.instrument}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	c.logger.Info("Connected to tick feed")
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		tick, err := c.decode(message)
		if err != nil {
			c.logger.WithError(err).Debug("Feed message ignored")
			continue
		}
		c.handler(tick)
	}
}

// decode parses one tick message; other instruments are rejected
func (c *Client) decode(message []byte) (contracts.Tick, error) {
	var tick contracts.Tick
	if err := json.Unmarshal(message, &tick); err != nil {
		return tick, fmt.Errorf("unmarshal tick: %w", err)
	}
	if tick.Price <= 0 {
		return tick, fmt.Errorf("tick without price")
	}
	if tick.Instrument != "" && !strings.EqualFold(tick.Instrument, c.instrument) {
		return tick, fmt.Errorf("tick for %s", tick.Instrument)
	}
	tick.Instrument = c.instrument
	if tick.Time.IsZero() {
		tick.Time = c.now()
	}
	return tick, nil
}
