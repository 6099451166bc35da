package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

const (
	// outboxSize is the per-publisher send buffer
	outboxSize = 256

	// publishTimeout bounds one transport write
	publishTimeout = 2 * time.Second
)

// Poster schedules work on the goroutine that owns the follower engine
type Poster interface {
	Post(ctx context.Context, task engine.Task) error
}

// ChannelName returns the Pub/Sub channel for an instrument
func ChannelName(prefix, instrument string) string {
	return fmt.Sprintf("%s:%s", prefix, instrument)
}

// StreamName returns the audit stream for an instrument
func StreamName(prefix, instrument string) string {
	return fmt.Sprintf("%s:stream:%s", prefix, instrument)
}

// outbox takes encoded signals off the bus without blocking the publisher
// bus 핸들러는 actor goroutine에서 실행 → 네트워크 I/O는 별도 goroutine
type outbox struct {
	ch        chan []byte
	transport string
	logger    *logger.Logger
}

func newOutbox(transport string, log *logger.Logger) *outbox {
	return &outbox{
		ch:        make(chan []byte, outboxSize),
		transport: transport,
		logger:    log,
	}
}

func (o *outbox) handle(sig contracts.Signal) {
	data, err := Encode(sig)
	if err != nil {
		o.logger.WithError(err).Error("Signal encode failed")
		metrics.RelayMessages.WithLabelValues(o.transport, "encode_error").Inc()
		return
	}
	select {
	case o.ch <- data:
	default:
		o.logger.WithField("type", sig.Type()).Warn("Relay outbox full, signal dropped")
		metrics.RelayMessages.WithLabelValues(o.transport, "dropped").Inc()
	}
}

// deliver decodes data and publishes it on bus from the poster's goroutine
func deliver(ctx context.Context, data []byte, bus *signalbus.Bus, poster Poster, transport string, log *logger.Logger) {
	sig, err := Decode(data)
	if err != nil {
		log.WithError(err).Warn("Malformed signal ignored")
		metrics.RelayMessages.WithLabelValues(transport, "decode_error").Inc()
		return
	}
	if err := poster.Post(ctx, func(context.Context) { bus.Publish(sig) }); err != nil {
		log.WithError(err).WithField("type", sig.Type()).Error("Signal delivery failed")
		metrics.RelayMessages.WithLabelValues(transport, "post_error").Inc()
		return
	}
	metrics.RelayMessages.WithLabelValues(transport, "received").Inc()
}
