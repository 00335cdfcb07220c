package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration values for the duel service
type Config struct {
	HTTPAddr         string   `env:"HTTP_ADDR" envDefault:":5200"`
	GameServiceToken string   `env:"GAME_SERVICE_TOKEN"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Database
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"` // postgres | sqlite
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/duel.db"`

	// Event fan-out to notification/presence services (optional)
	RedisURL string `env:"REDIS_URL"`

	// Terminal session archive (optional)
	Archive ArchiveConfig `envPrefix:"ARCHIVE_"`

	BotRosterPath string `env:"BOT_ROSTER_PATH" envDefault:"data/bots.json"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Timing Timing
}

// ArchiveConfig points at an S3-compatible bucket (R2, MinIO, S3).
type ArchiveConfig struct {
	Bucket          string `env:"BUCKET"`
	Endpoint        string `env:"ENDPOINT"`
	Region          string `env:"REGION" envDefault:"auto"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Prefix          string `env:"PREFIX" envDefault:"sessions"`
}

// Enabled reports whether terminal sessions should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Timing groups every deadline and interval used by the matchmaking and session engine.
type Timing struct {
	ReadyCheckTimeout     time.Duration `env:"READY_CHECK_TIMEOUT" envDefault:"10s"`
	HeartbeatStaleAfter   time.Duration `env:"HEARTBEAT_STALE_AFTER" envDefault:"30s"`
	PauseGrace            time.Duration `env:"PAUSE_GRACE" envDefault:"60s"`
	TokenValidity         time.Duration `env:"TOKEN_VALIDITY" envDefault:"10m"`
	QueueEntryTTL         time.Duration `env:"QUEUE_ENTRY_TTL" envDefault:"10m"`
	MaxSessionDuration    time.Duration `env:"MAX_SESSION_DURATION" envDefault:"1h"`
	MatchmakingInterval   time.Duration `env:"MATCHMAKING_INTERVAL" envDefault:"2s"`
	LivenessScanInterval  time.Duration `env:"LIVENESS_SCAN_INTERVAL" envDefault:"5s"`
	DeadlineSweepInterval time.Duration `env:"DEADLINE_SWEEP_INTERVAL" envDefault:"15s"`
	BotBackfillAfter      time.Duration `env:"BOT_BACKFILL_AFTER" envDefault:"30s"`
	BotThinkInterval      time.Duration `env:"BOT_THINK_INTERVAL" envDefault:"1s"`
	PoolMaxSize           int           `env:"POOL_MAX_SIZE" envDefault:"50"`
	RequeueOnCancel       bool          `env:"REQUEUE_ON_CANCEL" envDefault:"true"`
}

// DefaultTiming returns the documented defaults without reading the environment.
func DefaultTiming() Timing {
	return Timing{
		ReadyCheckTimeout:     10 * time.Second,
		HeartbeatStaleAfter:   30 * time.Second,
		PauseGrace:            60 * time.Second,
		TokenValidity:         10 * time.Minute,
		QueueEntryTTL:         10 * time.Minute,
		MaxSessionDuration:    time.Hour,
		MatchmakingInterval:   2 * time.Second,
		LivenessScanInterval:  5 * time.Second,
		DeadlineSweepInterval: 15 * time.Second,
		BotBackfillAfter:      30 * time.Second,
		BotThinkInterval:      time.Second,
		PoolMaxSize:           50,
		RequeueOnCancel:       true,
	}
}

// Load reads configuration from a .env file (if present) and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.GameServiceToken == "" {
		return fmt.Errorf("GAME_SERVICE_TOKEN is required")
	}
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.Timing.PoolMaxSize < 2 {
		return fmt.Errorf("POOL_MAX_SIZE must be at least 2, got %d", c.Timing.PoolMaxSize)
	}
	if c.Timing.ReadyCheckTimeout <= 0 || c.Timing.PauseGrace <= 0 || c.Timing.HeartbeatStaleAfter <= 0 {
		return fmt.Errorf("ready-check, pause and heartbeat timings must be positive")
	}
	return nil
}
