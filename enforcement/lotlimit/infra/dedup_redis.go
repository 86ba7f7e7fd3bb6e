package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupGate reivindica cada bidID com SET NX EX.
type RedisDedupGate struct {
	rdb  *redis.Client
	keys Keyspace
	ttl  time.Duration
}

type DedupOption func(*RedisDedupGate)

func WithDedupTTL(d time.Duration) DedupOption {
	return func(g *RedisDedupGate) { g.ttl = d }
}

func NewRedisDedupGate(rdb *redis.Client, keys Keyspace, opts ...DedupOption) *RedisDedupGate {
	g := &RedisDedupGate{rdb: rdb, keys: keys, ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisDedupGate) Accept(ctx context.Context, bidID string) (bool, error) {
	return g.rdb.SetNX(ctx, g.keys.ProcessedBid(bidID), "1", g.ttl).Result()
}
