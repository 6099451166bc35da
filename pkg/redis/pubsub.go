package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps audit streams via XADD MAXLEN ~
const streamMaxLen int64 = 10000

// Publish sends a payload to a Pub/Sub channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if !c.enabled {
		return nil
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to a capped stream
func (c *Client) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if !c.enabled {
		return nil
	}
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Subscribe returns raw payloads from channel until ctx is cancelled
// 구독 확인(Receive) 후 반환, ctx 종료 시 채널 close
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if !c.enabled {
		return nil, fmt.Errorf("redis: subscribe %s: redis disabled", channel)
	}

	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
