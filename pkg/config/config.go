package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Instance
	Role       string // primary, follower
	InstanceID string
	Instrument string

	// Strategy YAML path
	StrategyConfig string

	// Database (order/position journal)
	Database       DatabaseConfig
	JournalEnabled bool

	// Redis
	Redis RedisConfig

	// Signal relay between primary and followers
	Relay RelayConfig

	// Tick feed
	FeedURL string

	// Engine
	Engine EngineConfig

	// Remote command channel
	Remote RemoteConfig

	// Cron schedules
	Schedule ScheduleConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RelayConfig holds the out-of-process signal transport settings
type RelayConfig struct {
	Transport string // redis, websocket, none
	Channel   string // redis channel prefix
	WSURL     string // follower: primary의 /ws/signals 주소
}

// EngineConfig holds actor settings
type EngineConfig struct {
	QueueSize    int
	JournalWrite time.Duration // journal write timeout
}

// RemoteConfig holds remote command throttling
type RemoteConfig struct {
	RatePerSec float64
	Burst      int
}

// ScheduleConfig holds cron expressions (seconds field included)
type ScheduleConfig struct {
	SessionFlatten string
	Snapshot       string
	Reconcile      string
	Timezone       string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Instance
		Role:       getEnv("ROLE", "primary"),
		InstanceID: getEnv("INSTANCE_ID", "orbit-1"),
		Instrument: getEnv("INSTRUMENT", "MES"),

		StrategyConfig: getEnv("STRATEGY_CONFIG", ""),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},
		JournalEnabled: getEnvAsBool("JOURNAL_ENABLED", false),

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Relay: RelayConfig{
			Transport: getEnv("RELAY_TRANSPORT", "none"),
			Channel:   getEnv("RELAY_CHANNEL", "orbit:signals"),
			WSURL:     getEnv("RELAY_WS_URL", ""),
		},

		FeedURL: getEnv("FEED_WS_URL", ""),

		Engine: EngineConfig{
			QueueSize:    getEnvAsInt("ENGINE_QUEUE_SIZE", 1024),
			JournalWrite: getEnvAsDuration("ENGINE_JOURNAL_TIMEOUT", "2s"),
		},

		Remote: RemoteConfig{
			RatePerSec: getEnvAsFloat("REMOTE_RATE_PER_SEC", 2),
			Burst:      getEnvAsInt("REMOTE_BURST", 2),
		},

		Schedule: ScheduleConfig{
			SessionFlatten: getEnv("SESSION_FLATTEN_CRON", "0 55 15 * * MON-FRI"),
			Snapshot:       getEnv("SNAPSHOT_CRON", "*/5 * * * * *"),
			Reconcile:      getEnv("RECONCILE_CRON", "0 * * * * *"),
			Timezone:       getEnv("SCHEDULE_TZ", "America/New_York"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Role != "primary" && c.Role != "follower" {
		return fmt.Errorf("ROLE must be one of: primary, follower")
	}

	if c.Instrument == "" {
		return fmt.Errorf("INSTRUMENT is required")
	}

	// Journal requires a database
	if c.JournalEnabled && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when JOURNAL_ENABLED=true")
	}

	switch c.Relay.Transport {
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("RELAY_TRANSPORT=redis requires REDIS_ENABLED=true")
		}
	case "websocket":
		if c.Role == "follower" && c.Relay.WSURL == "" {
			return fmt.Errorf("RELAY_WS_URL is required for a websocket follower")
		}
	case "none":
	default:
		return fmt.Errorf("RELAY_TRANSPORT must be one of: redis, websocket, none")
	}

	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("ENGINE_QUEUE_SIZE must be > 0")
	}

	return nil
}

// IsFollower reports whether the instance mirrors a primary
func (c *Config) IsFollower() bool {
	return c.Role == "follower"
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
