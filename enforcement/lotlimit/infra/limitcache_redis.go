package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var errNotCached = errors.New("limit not cached yet")

// RedisLimitCache aquece o limite de (leilão, participante) no hash de limites.
//
// Só um leitor por chave vai ao LimitStore numa rajada: dentro do processo via
// singleflight, entre processos via lock SET NX PX com token. Quem perde o lock
// faz polling limitado e, se o valor não aparecer antes do lock expirar, lê o
// store direto.
type RedisLimitCache struct {
	rdb    *redis.Client
	keys   Keyspace
	store  domain.LimitStore
	logger *slog.Logger
	group  singleflight.Group

	ttl          time.Duration
	lockTTL      time.Duration
	lockWait     time.Duration
	lockAttempts int
}

type LimitCacheOption func(*RedisLimitCache)

func WithLimitTTL(d time.Duration) LimitCacheOption {
	return func(c *RedisLimitCache) { c.ttl = d }
}

func WithLimitLock(ttl, wait time.Duration, attempts int) LimitCacheOption {
	return func(c *RedisLimitCache) {
		c.lockTTL = ttl
		c.lockWait = wait
		c.lockAttempts = attempts
	}
}

func WithLimitLogger(l *slog.Logger) LimitCacheOption {
	return func(c *RedisLimitCache) { c.logger = l }
}

func NewRedisLimitCache(rdb *redis.Client, keys Keyspace, store domain.LimitStore, opts ...LimitCacheOption) *RedisLimitCache {
	c := &RedisLimitCache{
		rdb:          rdb,
		keys:         keys,
		store:        store,
		logger:       slog.Default(),
		ttl:          time.Hour,
		lockTTL:      2 * time.Second,
		lockWait:     100 * time.Millisecond,
		lockAttempts: 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lockAttempts < 1 {
		c.lockAttempts = 1
	}
	return c
}

func (c *RedisLimitCache) Ensure(ctx context.Context, auctionID, participantID string, opts domain.EnsureOptions) (domain.Limit, error) {
	if !opts.ForceRefresh {
		l, err := c.cached(ctx, auctionID, participantID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, errNotCached) {
			c.logger.Warn("limit cache read failed, warming from store",
				"auction", auctionID, "participant", participantID, "err", err)
		}
	}

	key := auctionID + "\x00" + participantID
	if opts.ForceRefresh {
		key += "\x00force"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.warm(ctx, auctionID, participantID, opts.ForceRefresh)
	})
	if err != nil {
		return domain.Unlimited, err
	}
	return v.(domain.Limit), nil
}

// Peek lê o cache sem aquecer. ok=false quando não há valor.
func (c *RedisLimitCache) Peek(ctx context.Context, auctionID, participantID string) (domain.Limit, bool, error) {
	l, err := c.cached(ctx, auctionID, participantID)
	if errors.Is(err, errNotCached) {
		return domain.Unlimited, false, nil
	}
	if err != nil {
		return domain.Unlimited, false, err
	}
	return l, true, nil
}

func (c *RedisLimitCache) cached(ctx context.Context, auctionID, participantID string) (domain.Limit, error) {
	v, err := c.rdb.HGet(ctx, c.keys.Limits(auctionID), participantID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Unlimited, errNotCached
	}
	if err != nil {
		return domain.Unlimited, err
	}
	l, err := domain.ParseLimit(v)
	if err != nil {
		// valor corrompido conta como ausente
		return domain.Unlimited, errNotCached
	}
	return l, nil
}

func (c *RedisLimitCache) warm(ctx context.Context, auctionID, participantID string, force bool) (domain.Limit, error) {
	lockKey := c.keys.LimitLock(auctionID, participantID)
	token := uuid.NewString()

	held, err := c.rdb.SetNX(ctx, lockKey, token, c.lockTTL).Result()
	if err != nil {
		c.logger.Warn("limit lock failed, reading store directly",
			"auction", auctionID, "participant", participantID, "err", err)
		held = false
	}
	if held {
		defer c.release(lockKey, token)
		// outro dono pode ter aquecido entre a leitura rápida e o lock
		if !force {
			if l, err := c.cached(ctx, auctionID, participantID); err == nil {
				return l, nil
			}
		}
	}

	if !held && err == nil && !force {
		l, perr := backoff.Retry(ctx, func() (domain.Limit, error) {
			return c.cached(ctx, auctionID, participantID)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(c.lockWait)),
			backoff.WithMaxTries(uint(c.lockAttempts)),
		)
		if perr == nil {
			return l, nil
		}
		if ctx.Err() != nil {
			return domain.Unlimited, ctx.Err()
		}
	}

	l, err := c.store.ParticipantLimit(ctx, auctionID, participantID)
	if err != nil {
		return domain.Unlimited, fmt.Errorf("load limit %s/%s: %w", auctionID, participantID, err)
	}

	if err := c.write(ctx, auctionID, participantID, l); err != nil {
		c.logger.Warn("limit cache write-through failed",
			"auction", auctionID, "participant", participantID, "err", err)
	}
	return l, nil
}

// Store grava um limite já conhecido (ex: alteração administrativa).
func (c *RedisLimitCache) Store(ctx context.Context, auctionID, participantID string, l domain.Limit) error {
	return c.write(ctx, auctionID, participantID, l)
}

func (c *RedisLimitCache) write(ctx context.Context, auctionID, participantID string, l domain.Limit) error {
	hash := c.keys.Limits(auctionID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, hash, participantID, l.Encode())
	if c.ttl > 0 {
		pipe.Expire(ctx, hash, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisLimitCache) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseLockScript.Run(ctx, c.rdb, []string{lockKey}, token).Err(); err != nil {
		c.logger.Warn("limit lock release failed", "key", lockKey, "err", err)
	}
}
