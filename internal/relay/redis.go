package relay

import (
	"context"

	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
	"github.com/wonny/orbit/pkg/redis"
)

// RedisPublisher forwards every bus signal to Redis Pub/Sub and an audit stream
type RedisPublisher struct {
	client  *redis.Client
	bus     *signalbus.Bus
	channel string
	stream  string
	out     *outbox
	sub     signalbus.Subscription
	logger  *logger.Logger
}

// NewRedisPublisher creates a publisher for one instrument
func NewRedisPublisher(client *redis.Client, bus *signalbus.Bus, prefix, instrument string, log *logger.Logger) *RedisPublisher {
	log = log.WithFields(map[string]interface{}{
		"component": "relay",
		"transport": "redis",
	})
	return &RedisPublisher{
		client:  client,
		bus:     bus,
		channel: ChannelName(prefix, instrument),
		stream:  StreamName(prefix, instrument),
		out:     newOutbox("redis", log),
		logger:  log,
	}
}

// Run subscribes to the bus and writes until ctx is cancelled
func (p *RedisPublisher) Run(ctx context.Context) error {
	p.sub = p.bus.SubscribeAll(p.out.handle)
	defer p.bus.Unsubscribe(p.sub)

	p.logger.WithFields(map[string]interface{}{
		"channel": p.channel,
		"stream":  p.stream,
	}).Info("Redis signal publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Redis signal publisher stopped")
			return nil
		case data := <-p.out.ch:
			p.write(ctx, data)
		}
	}
}

func (p *RedisPublisher) write(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data); err != nil {
		p.logger.WithError(err).Error("Signal publish failed")
		metrics.RelayMessages.WithLabelValues("redis", "publish_error").Inc()
		return
	}
	// 감사용 스트림 실패는 전달에 영향 없음
	if err := p.client.StreamAppend(ctx, p.stream, data); err != nil {
		p.logger.WithError(err).Warn("Signal stream append failed")
	}
	metrics.RelayMessages.WithLabelValues("redis", "sent").Inc()
}

// RedisSubscriber feeds signals from Redis into a follower bus
type RedisSubscriber struct {
	client  *redis.Client
	bus     *signalbus.Bus
	poster  Poster
	channel string
	logger  *logger.Logger
}

// NewRedisSubscriber creates a subscriber for one instrument
func NewRedisSubscriber(client *redis.Client, bus *signalbus.Bus, poster Poster, prefix, instrument string, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		client:  client,
		bus:     bus,
		poster:  poster,
		channel: ChannelName(prefix, instrument),
		logger: log.WithFields(map[string]interface{}{
			"component": "relay",
			"transport": "redis",
		}),
	}
}

// Run receives until ctx is cancelled or the subscription closes
func (s *RedisSubscriber) Run(ctx context.Context) error {
	msgs, err := s.client.Subscribe(ctx, s.channel)
	if err != nil {
		return err
	}
	s.logger.WithField("channel", s.channel).Info("Redis signal subscriber started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Redis signal subscriber stopped")
			return nil
		case data, ok := <-msgs:
			if !ok {
				s.logger.Warn("Redis subscription closed")
				return nil
			}
			deliver(ctx, data, s.bus, s.poster, "redis", s.logger)
		}
	}
}
