package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string `env:"DB_HOST,default=localhost"`
	DBPort     string `env:"DB_PORT,default=5432"`
	DBUser     string `env:"DB_USER,default=postgres"`
	DBPassword string `env:"DB_PASSWORD,default=postgres"`
	DBName     string `env:"DB_NAME,default=notesync"`
	DBSSLMode  string `env:"DB_SSLMODE,default=disable"`

	ServerPort string `env:"SERVER_PORT,default=8080"`
	ServerHost string `env:"SERVER_HOST,default=localhost"`

	// PublicWSURL is the externally reachable base used when minting share links.
	PublicWSURL string `env:"PUBLIC_WS_URL,default=ws://localhost:8080"`

	// Share tokens
	ShareSecret string        `env:"SHARE_SECRET"`
	ShareTTL    time.Duration `env:"SHARE_TTL,default=168h"`

	// Revision history and the pruning worker pool
	RevisionKeep      int `env:"REVISION_KEEP,default=20"`
	RevisionWorkers   int `env:"REVISION_WORKERS,default=2"`
	RevisionQueueSize int `env:"REVISION_QUEUE_SIZE,default=64"`

	// Collaboration
	SendBuffer       int           `env:"SEND_BUFFER,default=256"`
	CloseOnFinalSave bool          `env:"CLOSE_ON_FINAL_SAVE,default=true"`
	CursorTTL        time.Duration `env:"CURSOR_TTL,default=10s"`

	// Multi-node relay. Empty address disables it.
	RedisAddr   string `env:"REDIS_ADDR"`
	RelayPrefix string `env:"RELAY_PREFIX,default=notesync:relay:"`

	// Observability
	JaegerEndpoint string  `env:"JAEGER_ENDPOINT,default=http://localhost:14268/api/traces"`
	TraceRatio     float64 `env:"TRACE_RATIO,default=1"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if cfg.ShareSecret == "" {
		return nil, fmt.Errorf("SHARE_SECRET is required")
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}
