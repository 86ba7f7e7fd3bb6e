package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore conta desfechos de lances por status, por minuto e (opcionalmente) por leilão.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por leilão.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackAuctions bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackAuctions(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackAuctions = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:           rdb,
		prefix:        Keyspace{}.Stats(),
		ttl:           24 * time.Hour,
		bucket:        "minute",
		trackAuctions: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Status)
	if field == "" {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackAuctions {
		if a := strings.TrimSpace(ev.AuctionID); a != "" {
			auctionKey := s.prefix + ":auction:" + a
			pipe.HIncrBy(ctx, auctionKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, auctionKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals devolve os contadores cumulativos por status.
func (s *RedisStatsStore) Totals(ctx context.Context) (map[string]int64, error) {
	return s.readCounters(ctx, s.prefix+":total")
}

func (s *RedisStatsStore) Auction(ctx context.Context, auctionID string) (map[string]int64, error) {
	return s.readCounters(ctx, s.prefix+":auction:"+auctionID)
}

func (s *RedisStatsStore) readCounters(ctx context.Context, key string) (map[string]int64, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(vals))
	for k, v := range vals {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
