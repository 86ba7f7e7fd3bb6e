package infra

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/stretchr/testify/require"
)

func swap(t *testing.T, l *RedisLedger, auction, lot, bid, leader string) domain.Outcome {
	t.Helper()
	out, err := l.Swap(context.Background(), domain.SwapRequest{AuctionID: auction, LotID: lot, BidID: bid, NewLeaderID: leader})
	require.NoError(t, err)
	return out
}

func TestRedisLedger_FirstLeadIsOKWithoutOldLeader(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})

	out := swap(t, l, "a1", "lot1", "b1", "A")

	require.Equal(t, domain.StatusOK, out.Status)
	require.Equal(t, 1, out.NewCount)
	require.Empty(t, out.OldLeaderID)
	require.False(t, out.NewLimitKnown)
	require.True(t, out.NewLimit.IsUnlimited())
}

func TestRedisLedger_ClassifiesAgainstCachedLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{}
	l := NewRedisLedger(rdb, keys)
	mr.HSet(keys.Limits("a1"), "A", "2")
	mr.HSet(keys.Registrants("a1"), "A", "reg-A")

	require.Equal(t, domain.StatusOK, swap(t, l, "a1", "lot1", "b1", "A").Status)

	out := swap(t, l, "a1", "lot2", "b2", "A")
	require.Equal(t, domain.StatusAtLimit, out.Status)
	require.Equal(t, 2, out.NewCount)
	require.True(t, out.NewLimitKnown)
	require.Equal(t, domain.Limit(2), out.NewLimit)
	require.Equal(t, "reg-A", out.NewRegistrantID)

	out = swap(t, l, "a1", "lot3", "b3", "A")
	require.Equal(t, domain.StatusExceeded, out.Status)
	require.Equal(t, 3, out.NewCount)

	// EXCEEDED também é gravado
	lead, err := l.Leader(context.Background(), "a1", "lot3")
	require.NoError(t, err)
	require.Equal(t, "A", lead.LeaderID)
	require.Equal(t, "b3", lead.BidID)
}

func TestRedisLedger_UnlimitedNeverReachesLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{}
	l := NewRedisLedger(rdb, keys)
	mr.HSet(keys.Limits("a1"), "A", "")

	for i := 0; i < 5; i++ {
		out := swap(t, l, "a1", fmt.Sprintf("lot%d", i), fmt.Sprintf("b%d", i), "A")
		require.Equal(t, domain.StatusOK, out.Status)
		require.True(t, out.NewLimitKnown)
		require.True(t, out.NewLimit.IsUnlimited())
	}
}

func TestRedisLedger_ZeroLimitExceedsOnFirstLead(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{}
	l := NewRedisLedger(rdb, keys)
	mr.HSet(keys.Limits("a1"), "A", "0")

	require.Equal(t, domain.StatusExceeded, swap(t, l, "a1", "lot1", "b1", "A").Status)
}

func TestRedisLedger_OutbidMovesCountAndReportsOldLeader(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{}
	l := NewRedisLedger(rdb, keys)
	mr.HSet(keys.Limits("a1"), "A", "2")
	mr.HSet(keys.Registrants("a1"), "A", "reg-A")
	mr.Set(keys.Awaiting("a1", "A"), "1")

	swap(t, l, "a1", "lot1", "b1", "A")
	swap(t, l, "a1", "lot2", "b2", "A")

	out := swap(t, l, "a1", "lot1", "b3", "B")
	require.Equal(t, domain.StatusOK, out.Status)
	require.Equal(t, "A", out.OldLeaderID)
	require.Equal(t, 1, out.OldCount)
	require.True(t, out.OldLimitKnown)
	require.Equal(t, domain.Limit(2), out.OldLimit)
	require.Equal(t, "reg-A", out.OldRegistrantID)
	require.True(t, out.OldAwaiting)
	require.False(t, out.NewAwaiting)

	ctx := context.Background()
	n, err := l.Count(ctx, "a1", "A")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = l.Count(ctx, "a1", "B")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRedisLedger_SameLeaderIsNoop(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})

	swap(t, l, "a1", "lot1", "b1", "A")
	out := swap(t, l, "a1", "lot1", "b2", "A")

	require.Equal(t, domain.StatusNoop, out.Status)
	require.False(t, out.Status.Committed())
	require.Equal(t, 1, out.NewCount)

	lead, err := l.Leader(context.Background(), "a1", "lot1")
	require.NoError(t, err)
	require.Equal(t, "b2", lead.BidID)
}

func TestRedisLedger_LeaderNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})

	_, err := l.Leader(context.Background(), "a1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisLedger_ConcurrentLeadsOnDifferentLots(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{}
	l := NewRedisLedger(rdb, keys)
	mr.HSet(keys.Limits("a1"), "A", "2")

	swap(t, l, "a1", "lot1", "b1", "A")

	var wg sync.WaitGroup
	results := make([]domain.OutcomeStatus, 2)
	for i, lot := range []string{"lot3", "lot4"} {
		wg.Add(1)
		go func(i int, lot string) {
			defer wg.Done()
			out, err := l.Swap(context.Background(), domain.SwapRequest{AuctionID: "a1", LotID: lot, BidID: "b-" + lot, NewLeaderID: "A"})
			if err == nil {
				results[i] = out.Status
			}
		}(i, lot)
	}
	wg.Wait()

	require.ElementsMatch(t, []domain.OutcomeStatus{domain.StatusAtLimit, domain.StatusExceeded}, results)
	n, err := l.Count(context.Background(), "a1", "A")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRedisLedger_CountsMatchLeadershipAfterRandomSwaps(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})
	rng := rand.New(rand.NewSource(7))

	participants := []string{"A", "B", "C"}
	for i := 0; i < 200; i++ {
		lot := fmt.Sprintf("lot%d", rng.Intn(10))
		p := participants[rng.Intn(len(participants))]
		swap(t, l, "a1", lot, fmt.Sprintf("b%d", i), p)
	}

	snap, err := l.Snapshot(context.Background(), "a1")
	require.NoError(t, err)

	led := map[string]int{}
	seen := map[string]bool{}
	for _, lot := range snap.Lots {
		require.False(t, seen[lot.LotID], "lot %s has more than one leader", lot.LotID)
		seen[lot.LotID] = true
		led[lot.LeaderID]++
	}
	for p, n := range snap.Counts {
		require.GreaterOrEqual(t, n, 0)
		require.Equal(t, led[p], n, "count for %s", p)
	}
	for _, p := range participants {
		n, err := l.Count(context.Background(), "a1", p)
		require.NoError(t, err)
		require.Equal(t, led[p], n)
	}
}

func TestRedisLedger_RejectsIncompleteRequest(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})

	_, err := l.Swap(context.Background(), domain.SwapRequest{AuctionID: "a1", LotID: "lot1"})
	require.Error(t, err)
}

func TestRedisLedger_RepeatedBidReturnsRecordedOutcome(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{})

	swap(t, l, "a1", "lot1", "b1", "A")
	first := swap(t, l, "a1", "lot1", "b2", "B")
	require.Equal(t, domain.StatusOK, first.Status)
	require.False(t, first.Replayed)

	// C lidera depois; repetir b2 não pode devolver o lote a B
	swap(t, l, "a1", "lot1", "b3", "C")
	again := swap(t, l, "a1", "lot1", "b2", "B")

	require.True(t, again.Replayed)
	require.Equal(t, domain.StatusOK, again.Status)
	require.Equal(t, "A", again.OldLeaderID)
	require.Equal(t, 0, again.OldCount)

	lead, err := l.Leader(context.Background(), "a1", "lot1")
	require.NoError(t, err)
	require.Equal(t, "C", lead.LeaderID)
	for p, want := range map[string]int{"A": 0, "B": 0, "C": 1} {
		n, err := l.Count(context.Background(), "a1", p)
		require.NoError(t, err)
		require.Equal(t, want, n, "count for %s", p)
	}
}

func TestRedisLedger_OutcomeIsNotRecordedWithoutTTL(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLedger(rdb, Keyspace{}, WithOutcomeTTL(0))

	swap(t, l, "a1", "lot1", "b1", "A")
	swap(t, l, "a1", "lot1", "b2", "B")
	out := swap(t, l, "a1", "lot1", "b1", "A")

	require.False(t, out.Replayed)
	require.Equal(t, "B", out.OldLeaderID)
}

func TestRedisLedger_SwapKeysStayInsideAuctionSlot(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := Keyspace{Prefix: "lotguard"}
	l := NewRedisLedger(rdb, keys)
	mr.Set(keys.Awaiting("a1", "B"), "1")

	swap(t, l, "a1", "lot1", "b1", "A")
	out := swap(t, l, "a1", "lot1", "b2", "B")
	require.True(t, out.NewAwaiting)
	require.False(t, out.OldAwaiting)

	require.True(t, mr.Exists(keys.SwapOutcome("a1", "b2")))
	for _, k := range mr.Keys() {
		require.Contains(t, k, "lotguard:auction:{a1}:", "key %s outside the auction slot", k)
	}
}
