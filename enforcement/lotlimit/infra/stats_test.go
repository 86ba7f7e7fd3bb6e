package infra

import (
	"context"
	"testing"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRedisStatsStore_CountsTotalsBucketsAndAuctions(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("test:stats:"), WithStatsTTL(time.Hour))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, domain.StatsEvent{AuctionID: "a1", Status: domain.IngestOK, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{AuctionID: "a1", Status: domain.IngestAtLimit, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{AuctionID: "a2", Status: domain.IngestOK, At: at}))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), totals["ok"])
	require.Equal(t, int64(1), totals["atLimit"])

	byAuction, err := s.Auction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"ok": 1, "atLimit": 1}, byAuction)

	bucket := "test:stats:minute:202603011234"
	require.Equal(t, "2", mr.HGet(bucket, "ok"))
	require.Equal(t, time.Hour, mr.TTL(bucket))
}

func TestRedisStatsStore_NoBucketNoAuctions(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("s"), WithStatsBucket("none"), WithStatsTrackAuctions(false))

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{AuctionID: "a1", Status: domain.IngestDuplicate}))

	require.Equal(t, []string{"s:total"}, mr.Keys())
}

func TestMemoryStatsStore_AndFanOut(t *testing.T) {
	mem := NewMemoryStatsStore()
	reg := prometheus.NewRegistry()
	prom := NewPromStats(reg)
	fan := FanOutStats{mem, prom, nil}
	ctx := context.Background()

	require.NoError(t, fan.Record(ctx, domain.StatsEvent{AuctionID: "a1", Status: domain.IngestExceeded}))
	require.NoError(t, fan.Record(ctx, domain.StatsEvent{Status: domain.IngestIgnored}))

	require.Equal(t, int64(1), mem.Total(domain.IngestExceeded))
	require.Equal(t, map[domain.IngestStatus]int64{domain.IngestExceeded: 1}, mem.ByAuction("a1"))
	require.Equal(t, float64(1), testutil.ToFloat64(prom.outcomes.WithLabelValues("exceeded")))
	require.Equal(t, float64(1), testutil.ToFloat64(prom.outcomes.WithLabelValues("ignored")))
}

func TestPromStats_JobProcessed(t *testing.T) {
	prom := NewPromStats(prometheus.NewRegistry())

	prom.JobProcessed(domain.JobAudit, "done")
	prom.JobProcessed("", "dead_lettered")

	require.Equal(t, float64(1), testutil.ToFloat64(prom.jobs.WithLabelValues("audit", "done")))
	require.Equal(t, float64(1), testutil.ToFloat64(prom.jobs.WithLabelValues("unknown", "dead_lettered")))
}
