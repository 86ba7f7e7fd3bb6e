package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisRegistrantCache resolve participante -> registrant primeiro no hash do
// leilão e depois no RegistrantSource durável, gravando o resultado no cache.
// O mesmo hash é lido pelo script do ledger.
type RedisRegistrantCache struct {
	rdb    *redis.Client
	keys   Keyspace
	source domain.RegistrantSource
	logger *slog.Logger
}

func NewRedisRegistrantCache(rdb *redis.Client, keys Keyspace, source domain.RegistrantSource, logger *slog.Logger) *RedisRegistrantCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRegistrantCache{rdb: rdb, keys: keys, source: source, logger: logger}
}

func (c *RedisRegistrantCache) Resolve(ctx context.Context, auctionID, participantID string) (string, error) {
	v, err := c.rdb.HGet(ctx, c.keys.Registrants(auctionID), participantID).Result()
	switch {
	case err == nil && v != "":
		return v, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.Warn("registrant cache read failed", "auction", auctionID, "participant", participantID, "err", err)
	}

	if c.source == nil {
		return "", domain.ErrNotFound
	}
	id, err := c.source.RegistrantID(ctx, auctionID, participantID)
	if err != nil {
		return "", fmt.Errorf("resolve registrant %s/%s: %w", auctionID, participantID, err)
	}
	if id == "" {
		return "", domain.ErrNotFound
	}
	if err := c.Put(ctx, auctionID, participantID, id); err != nil {
		c.logger.Warn("registrant cache write failed", "auction", auctionID, "participant", participantID, "err", err)
	}
	return id, nil
}

func (c *RedisRegistrantCache) Put(ctx context.Context, auctionID, participantID, registrantID string) error {
	return c.rdb.HSet(ctx, c.keys.Registrants(auctionID), participantID, registrantID).Err()
}
