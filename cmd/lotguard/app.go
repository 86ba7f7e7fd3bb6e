package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/application"
	"lotlimit-enforcer/enforcement/lotlimit/domain"
	"lotlimit-enforcer/enforcement/lotlimit/infra"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app reúne as peças montadas a partir da config. Campos ficam nil quando o
// comando não precisa deles (ex: Postgres em `deadletter list`).
type app struct {
	cfg    config
	logger *slog.Logger

	rdb  *redis.Client
	pool *pgxpool.Pool
	keys infra.Keyspace

	queue      *infra.RedisRetryQueue
	state      *infra.RedisParticipantState
	ledger     *infra.RedisLedger
	redisStats *infra.RedisStatsStore

	store       *infra.PostgresStore
	registrants *infra.RedisRegistrantCache
	metrics     *infra.PromStats
	registry    *prometheus.Registry
	throttle    *infra.KeyedLimiter

	auditor  *application.Auditor
	enforcer *application.Enforcer
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// openApp conecta no Redis e, se n pedir, no Postgres e no sistema de registro.
func openApp(ctx context.Context, n needs) (*app, error) {
	cfg, err := readConfig(n)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, keys: infra.Keyspace{Prefix: cfg.RedisPrefix}}

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err = a.rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	a.queue = infra.NewRedisRetryQueue(a.rdb, a.keys,
		infra.WithBaseDelay(cfg.RetryBaseDelay),
		infra.WithMaxAttempts(cfg.RetryMaxAttempts),
		infra.WithLease(cfg.RetryLease),
		infra.WithQueueLogger(logger),
	)
	a.state = infra.NewRedisParticipantState(a.rdb, a.keys)
	a.ledger = infra.NewRedisLedger(a.rdb, a.keys)
	if cfg.StatsEnabled {
		a.redisStats = infra.NewRedisStatsStore(a.rdb,
			infra.WithStatsPrefix(cfg.StatsPrefix),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackAuctions(true),
		)
	}

	if !n.database {
		return a, nil
	}

	a.pool, err = infra.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = infra.NewPostgresStore(a.pool, infra.WithPostgresLogger(logger))
	if err := a.store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.registrants = infra.NewRedisRegistrantCache(a.rdb, a.keys, a.store, logger)
	a.auditor = &application.Auditor{Store: a.store, Retry: a.queue, Logger: logger}

	a.registry = prometheus.NewRegistry()
	a.metrics = infra.NewPromStats(a.registry)

	var stats domain.StatsStore = a.metrics
	if a.redisStats != nil {
		stats = infra.FanOutStats{a.metrics, a.redisStats}
	}

	a.enforcer = &application.Enforcer{
		Dedup: infra.NewRedisDedupGate(a.rdb, a.keys, infra.WithDedupTTL(cfg.DedupTTL)),
		Limits: infra.NewRedisLimitCache(a.rdb, a.keys, a.store,
			infra.WithLimitTTL(cfg.LimitCacheTTL),
			infra.WithLimitLock(cfg.LimitLockTTL, cfg.LimitLockWait, cfg.LimitLockAttempts),
			infra.WithLimitLogger(logger),
		),
		Ledger:      a.ledger,
		Flags:       a.state,
		Registrants: a.registrants,
		Audit:       a.auditor,
		Retry:       a.queue,
		Review:      a.queue,
		Stats:       stats,
		Logger:      logger,
	}

	if n.registry {
		// um bucket por leilão
		a.throttle = infra.NewKeyedLimiter(cfg.RegistryRPS, cfg.RegistryBurst)
		client := infra.NewRegistrationClient(cfg.RegistryBaseURL,
			infra.WithAPIKey(cfg.RegistryAPIKey),
			infra.WithThrottle(a.throttle),
			infra.WithHTTPClient(&http.Client{Timeout: cfg.RegistryTimeout}),
		)
		a.enforcer.Syncer = &application.Syncer{
			Registry: client,
			State:    a.state,
			Retry:    a.queue,
			Timeout:  cfg.RegistryTimeout,
			Logger:   logger,
		}
	}
	return a, nil
}

// worker monta o RetryWorker com todos os handlers, incluindo o replay de auditoria.
func (a *app) worker() *application.RetryWorker {
	handlers := a.enforcer.Handlers()
	handlers[domain.JobAudit] = a.auditor.Replay
	return &application.RetryWorker{
		Store:    a.queue,
		Handlers: handlers,
		Batch:    a.cfg.RetryBatch,
		Interval: a.cfg.RetryPollInterval,
		Metrics:  a.metrics,
		Logger:   a.logger,
	}
}
