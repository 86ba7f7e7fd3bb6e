package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

type countingMetrics struct {
	results map[string]int
}

func (m *countingMetrics) JobProcessed(kind domain.JobKind, result string) {
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[string(kind)+":"+result]++
}

func TestRetryWorker_MalformedAndUnknownJobsAreDeadLettered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	metrics := &countingMetrics{}
	h.worker.Metrics = metrics

	due := float64(h.clock.Now().UnixMilli())
	if err := h.rdb.ZAdd(ctx, h.keys.RetryQueue(),
		redisZ(due, "{not json"),
		redisZ(due, `{"id":"x","kind":"mystery","payload":{}}`),
		redisZ(due, `{"id":"y","kind":"pendingBid","payload":"nope"}`),
	).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if n := h.drain(t, time.Second); n != 3 {
		t.Fatalf("expected 3 claimed jobs, got %d", n)
	}
	if h.pending(t) != 0 {
		t.Fatalf("expected queue to be empty")
	}
	if h.deadCount() != 3 {
		t.Fatalf("expected 3 dead letters, got %d", h.deadCount())
	}
	if metrics.results["mystery:dead_lettered"] != 1 || metrics.results["pendingBid:dead_lettered"] != 1 {
		t.Fatalf("unexpected metrics %v", metrics.results)
	}
}

func TestRetryWorker_ExhaustedJobEndsInDeadLetter(t *testing.T) {
	h := newHarness(t)
	h.dir.add("a1", "A", "reg-A", 1)
	h.registry.setErr(errors.New("registry down"))

	h.bid(t, "a1", "lot1", "b1", "A")

	delay := 10 * time.Second
	for i := 0; i < 5; i++ {
		h.drain(t, delay+time.Second)
		delay *= 2
	}
	if h.pending(t) != 0 {
		t.Fatalf("expected job to leave the queue after max attempts")
	}
	if h.deadCount() != 1 {
		t.Fatalf("expected one dead letter, got %d", h.deadCount())
	}
}

func TestRetryWorker_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.worker.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}
