package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/orbit/pkg/config"
)

// pingTimeout bounds the connect check
const pingTimeout = 5 * time.Second

// DB wraps the journal connection pool
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool *pgxpool.Pool
}

// New opens the pool and verifies the connection
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the pool; safe to call twice
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health is the journal database state reported by /api/status
type Health struct {
	Healthy    bool          `json:"healthy"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	TotalConns int32         `json:"total_conns"`
	IdleConns  int32         `json:"idle_conns"`
	MaxConns   int32         `json:"max_conns"`
}

// HealthCheck pings the database and reads pool stats
func (db *DB) HealthCheck(ctx context.Context) Health {
	var h Health

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Latency = time.Since(start)

	stats := db.Pool.Stat()
	h.TotalConns = stats.TotalConns()
	h.IdleConns = stats.IdleConns()
	h.MaxConns = stats.MaxConns()
	h.Healthy = true
	return h
}
