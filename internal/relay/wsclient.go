package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/logger"
)

// Reconnect settings
const (
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 1 * time.Minute
)

// WSSubscriber reads the primary's /ws/signals stream into a follower bus
type WSSubscriber struct {
	url    string
	bus    *signalbus.Bus
	poster Poster
	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewWSSubscriber creates a subscriber for url
func NewWSSubscriber(url string, bus *signalbus.Bus, poster Poster, log *logger.Logger) *WSSubscriber {
	return &WSSubscriber{
		url:    url,
		bus:    bus,
		poster: poster,
		dialer: websocket.DefaultDialer,
		logger: log.WithFields(map[string]interface{}{
			"component": "relay",
			"transport": "websocket",
			"url":       url,
		}),
	}
}

// Run connects and re-connects until ctx is cancelled
// 끊긴 동안의 시그널은 복구하지 않음 (at-most-once)
func (s *WSSubscriber) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Websocket signal subscriber stopped")
			return nil
		}
		if err == nil {
			// 정상 종료 후에는 backoff 초기화
			delay = reconnectDelay
			s.logger.WithField("delay", delay.String()).Warn("Signal stream closed, reconnecting")
		} else {
			s.logger.WithError(err).WithField("delay", delay.String()).Warn("Signal stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		if err != nil {
			// Exponential backoff
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}
}

// session runs one connection; returns nil after a clean read loop ended
func (s *WSSubscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

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

	s.logger.Info("Connected to signal stream")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		deliver(ctx, data, s.bus, s.poster, "websocket", s.logger)
	}
}
