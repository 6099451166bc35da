package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/orbit/pkg/config"
	"github.com/wonny/orbit/pkg/logger"
)

const (
	// connectTimeout bounds the startup PING
	connectTimeout = 3 * time.Second
	dialTimeout    = 2 * time.Second
	// relay publish는 tick 경로라 짧게
	writeTimeout = 500 * time.Millisecond
)

// Client wraps the Redis connection shared by the relay and snapshot cache
// ⭐ SSOT: Redis 연결은 여기서만 관리
type Client struct {
	rdb     *redis.Client
	addr    string
	enabled bool
	log     *logger.Logger
}

// Option configures New
type Option func(*Client)

// WithLogger logs connect/close through log
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New connects when cfg.Redis.Enabled, otherwise returns a no-op client
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	log := c.log.WithField("component", "redis")

	if !cfg.Redis.Enabled {
		log.Info("Redis disabled, relay and snapshot cache are no-ops")
		return c, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  dialTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection to %s failed: %w", c.addr, err)
	}

	c.rdb = rdb
	c.enabled = true
	log.WithFields(map[string]interface{}{
		"addr": c.addr,
		"db":   cfg.Redis.DB,
	}).Info("Redis connected")
	return c, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.log.WithField("addr", c.addr).Debug("Redis connection closed")
	return err
}

// Enabled returns whether Redis is enabled
func (c *Client) Enabled() bool {
	return c.enabled
}

// Addr returns host:port from config
func (c *Client) Addr() string {
	return c.addr
}
