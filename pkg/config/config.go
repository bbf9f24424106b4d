// Package config loads the settings of the sync layer from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "SYNCSTORE_"

// Config holds every tunable of the layer.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	BaseURL        string        `env:"BASE_URL" envDefault:"http://127.0.0.1:8000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	UserAgent      string        `env:"USER_AGENT" envDefault:"go-syncstore"`
	APIToken       string        `env:"API_TOKEN"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"5m"`

	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	BackgroundTimeout time.Duration `env:"BACKGROUND_TIMEOUT" envDefault:"30s"`
	RefetchOnSuccess  bool          `env:"REFETCH_ON_SUCCESS" envDefault:"true"`
	RefetchOnFailure  bool          `env:"REFETCH_ON_FAILURE" envDefault:"true"`

	DeleteChunkSize int           `env:"DELETE_CHUNK_SIZE" envDefault:"10"`
	DeleteItemDelay time.Duration `env:"DELETE_ITEM_DELAY" envDefault:"100ms"`
	ScrollPageSize  int           `env:"SCROLL_PAGE_SIZE" envDefault:"100"`
}

// Load reads the configuration from SYNCSTORE_* variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env cannot check by itself.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url cannot be empty")
	}
	if c.RequestTimeout <= 0 || c.CacheTTL <= 0 || c.BackgroundTimeout <= 0 {
		return fmt.Errorf("timeouts and cache ttl must be positive")
	}
	if c.DeleteChunkSize <= 0 {
		return fmt.Errorf("delete chunk size must be positive, got %d", c.DeleteChunkSize)
	}
	if c.ScrollPageSize <= 0 {
		return fmt.Errorf("scroll page size must be positive, got %d", c.ScrollPageSize)
	}
	if c.DeleteItemDelay < 0 {
		return fmt.Errorf("delete item delay cannot be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// NewLogger builds a timestamped logger at the configured level writing to w,
// or to stderr when w is nil.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
