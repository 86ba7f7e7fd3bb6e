package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"lotlimit"`

	DatabaseURL string `env:"DATABASE_URL"`

	RegistryBaseURL string        `env:"REGISTRY_BASE_URL"`
	RegistryAPIKey  string        `env:"REGISTRY_API_KEY"`
	RegistryTimeout time.Duration `env:"REGISTRY_TIMEOUT" envDefault:"5s"`
	RegistryRPS     float64       `env:"REGISTRY_RPS" envDefault:"5"`
	RegistryBurst   int           `env:"REGISTRY_BURST" envDefault:"5"`

	DedupTTL      time.Duration `env:"DEDUP_TTL" envDefault:"5m"`
	LimitCacheTTL time.Duration `env:"LIMIT_CACHE_TTL" envDefault:"24h"`

	// LIMIT_LOCK_WAIT x LIMIT_LOCK_ATTEMPTS precisa cobrir LIMIT_LOCK_TTL.
	LimitLockTTL      time.Duration `env:"LIMIT_LOCK_TTL" envDefault:"2s"`
	LimitLockWait     time.Duration `env:"LIMIT_LOCK_WAIT" envDefault:"100ms"`
	LimitLockAttempts int           `env:"LIMIT_LOCK_ATTEMPTS" envDefault:"20"`

	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"10s"`
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryPollInterval time.Duration `env:"RETRY_POLL_INTERVAL" envDefault:"5s"`
	RetryBatch        int           `env:"RETRY_BATCH" envDefault:"5"`
	RetryLease        time.Duration `env:"RETRY_LEASE" envDefault:"1m"`

	IngestMaxInFlight    int           `env:"INGEST_MAX_IN_FLIGHT" envDefault:"64"`
	IngestAcquireTimeout time.Duration `env:"INGEST_ACQUIRE_TIMEOUT" envDefault:"2s"`
	IngestEventTimeout   time.Duration `env:"INGEST_EVENT_TIMEOUT" envDefault:"30s"`

	// WEBHOOK_RPS=0 desliga o throttle do webhook.
	WebhookRPS          float64       `env:"WEBHOOK_RPS" envDefault:"0"`
	WebhookBurst        int           `env:"WEBHOOK_BURST" envDefault:"50"`
	WebhookSourceHeader string        `env:"WEBHOOK_SOURCE_HEADER"`
	RetryAfter          time.Duration `env:"RETRY_AFTER" envDefault:"1s"`

	StatsEnabled bool          `env:"STATS_ENABLED" envDefault:"false"`
	StatsPrefix  string        `env:"STATS_PREFIX" envDefault:"lotlimit:stats"`
	StatsTTL     time.Duration `env:"STATS_TTL" envDefault:"24h"`
	StatsBucket  string        `env:"STATS_BUCKET" envDefault:"minute"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// needs diz quais dependências externas um comando usa.
type needs struct {
	database bool
	registry bool
}

func readConfig(n needs) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required")
	}
	if n.database && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return config{}, errors.New("DATABASE_URL is required")
	}
	if n.registry && strings.TrimSpace(cfg.RegistryBaseURL) == "" {
		return config{}, errors.New("REGISTRY_BASE_URL is required")
	}
	if cfg.RegistryBurst <= 0 {
		return config{}, errors.New("REGISTRY_BURST must be > 0")
	}
	if cfg.WebhookRPS < 0 {
		return config{}, errors.New("WEBHOOK_RPS must be >= 0")
	}
	if cfg.WebhookRPS > 0 && cfg.WebhookBurst <= 0 {
		return config{}, errors.New("WEBHOOK_BURST must be > 0 when WEBHOOK_RPS is set")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return config{}, errors.New("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if cfg.RetryBatch <= 0 {
		return config{}, errors.New("RETRY_BATCH must be > 0")
	}
	if cfg.RetryPollInterval <= 0 {
		return config{}, errors.New("RETRY_POLL_INTERVAL must be > 0")
	}
	if cfg.LimitLockAttempts <= 0 {
		return config{}, errors.New("LIMIT_LOCK_ATTEMPTS must be > 0")
	}
	if cfg.LimitLockWait*time.Duration(cfg.LimitLockAttempts) < cfg.LimitLockTTL {
		return config{}, fmt.Errorf("LIMIT_LOCK_WAIT x LIMIT_LOCK_ATTEMPTS (%s) must cover LIMIT_LOCK_TTL (%s)",
			cfg.LimitLockWait*time.Duration(cfg.LimitLockAttempts), cfg.LimitLockTTL)
	}
	if cfg.DedupTTL <= 0 {
		return config{}, errors.New("DEDUP_TTL must be > 0")
	}
	if cfg.IngestMaxInFlight <= 0 {
		return config{}, errors.New("INGEST_MAX_IN_FLIGHT must be > 0")
	}
	if cfg.StatsBucket != "minute" && cfg.StatsBucket != "none" {
		return config{}, fmt.Errorf("STATS_BUCKET must be minute or none, got %q", cfg.StatsBucket)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return config{}, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return config{}, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return lvl, nil
}

func newLogger(cfg config) *slog.Logger {
	lvl, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
