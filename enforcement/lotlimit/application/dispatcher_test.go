package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

type immediatePool struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.released++
		p.mu.Unlock()
	}, true
}

type recordingIngester struct {
	mu     sync.Mutex
	events []domain.BidEvent
	ctxErr error
}

func (r *recordingIngester) Ingest(ctx context.Context, ev domain.BidEvent) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.ctxErr = ctx.Err()
	return Result{Status: domain.IngestOK}, nil
}

var testBid = domain.BidEvent{AuctionID: "a1", LotID: "lot1", BidID: "b1", ParticipantID: "A", IsLeading: true}

func TestDispatcher_RunsIngestInBackgroundAndReleasesSlot(t *testing.T) {
	pool := &immediatePool{}
	ing := &recordingIngester{}
	d := &Dispatcher{Ingester: ing, Pool: pool, Retry: &memQueue{}}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Submit(ctx, testBid); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	d.Wait()

	if len(ing.events) != 1 || ing.events[0] != testBid {
		t.Fatalf("unexpected ingested events %+v", ing.events)
	}
	if ing.ctxErr != nil {
		t.Fatalf("ingest must not inherit request cancellation, got %v", ing.ctxErr)
	}
	if pool.acquired != 1 || pool.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", pool.acquired, pool.released)
	}
}

func TestDispatcher_SaturatedBacklogsBid(t *testing.T) {
	q := &memQueue{}
	ing := &recordingIngester{}
	d := &Dispatcher{Ingester: ing, Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond, Retry: q}

	if err := d.Submit(context.Background(), testBid); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Wait()

	if len(ing.events) != 0 {
		t.Fatalf("expected no direct ingest")
	}
	if len(q.jobs) != 1 || q.jobs[0].Kind != domain.JobPendingBid {
		t.Fatalf("expected pendingBid job, got %v", q.kinds())
	}
	var p domain.PendingBidPayload
	if err := q.jobs[0].Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Deduped || p.Event != testBid {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestDispatcher_SaturatedAndQueueDownFails(t *testing.T) {
	d := &Dispatcher{
		Ingester:       &recordingIngester{},
		Pool:           &blockingPool{},
		AcquireTimeout: 10 * time.Millisecond,
		Retry:          &memQueue{err: errors.New("redis down")},
	}
	if err := d.Submit(context.Background(), testBid); err == nil {
		t.Fatalf("expected error when the bid can be neither run nor backlogged")
	}
}

func TestDispatcher_NoPoolRunsDirectly(t *testing.T) {
	ing := &recordingIngester{}
	d := &Dispatcher{Ingester: ing}

	if err := d.Submit(context.Background(), testBid); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Wait()
	if len(ing.events) != 1 {
		t.Fatalf("expected one ingest")
	}
}
