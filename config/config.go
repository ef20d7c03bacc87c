// Package config loads gleaner settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/poiesic/gleaner/ai"
	"github.com/poiesic/gleaner/fetch"
	"github.com/poiesic/gleaner/split"
)

// Config holds every tunable of a gleaner process.
type Config struct {
	DBPath   string `env:"DB_PATH" envDefault:"./gleaner.db"`
	TenantID string `env:"TENANT_ID"`

	EmbeddingProvider string `env:"EMBEDDING_PROVIDER" envDefault:"openai"`
	EmbeddingHost     string `env:"EMBEDDING_HOST" envDefault:"http://localhost:11434/v1"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"embeddinggemma"`
	EmbeddingToken    string `env:"EMBEDDING_TOKEN"`

	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"25s"`
	FetchRetries     int           `env:"FETCH_RETRIES" envDefault:"1"`
	FetchBackoffBase time.Duration `env:"FETCH_BACKOFF_BASE" envDefault:"1s"`
	UserAgent        string        `env:"USER_AGENT"`
	KeepHTML         bool          `env:"KEEP_HTML"`
	SelectorRules    string        `env:"SELECTOR_RULES"` // host=sel1,sel2;host2=sel3

	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"200"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisWakeKey string `env:"REDIS_WAKE_KEY" envDefault:"gleaner:wakeup"`

	Concurrency  int           `env:"CONCURRENCY" envDefault:"2"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// Prefix is prepended to every environment variable name.
const Prefix = "GLEANER_"

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges the environment parser cannot express.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("config: FETCH_RETRIES must not be negative, got %d", c.FetchRetries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// AI returns the embedding provider configuration.
func (c *Config) AI() *ai.Config {
	return ai.NewConfig(
		ai.WithProvider(c.EmbeddingProvider),
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithToken(c.EmbeddingToken),
	)
}

// Fetch returns the per-job fetch options.
func (c *Config) Fetch() fetch.FetchOptions {
	opts := fetch.DefaultOptions()
	opts.Timeout = c.FetchTimeout
	opts.Retries = c.FetchRetries
	opts.BackoffBase = c.FetchBackoffBase
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

// Splitter returns the splitter options.
func (c *Config) Splitter() []split.Option {
	return []split.Option{
		split.WithChunkSize(c.ChunkSize),
		split.WithChunkOverlap(c.ChunkOverlap),
	}
}

// ParseLevel maps debug, info, warn or error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", level)
}
