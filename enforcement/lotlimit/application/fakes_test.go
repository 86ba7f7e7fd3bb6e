package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
	"lotlimit-enforcer/enforcement/lotlimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// memDirectory faz o papel do Postgres: limites e registrants.
type memDirectory struct {
	mu          sync.Mutex
	limits      map[string]domain.Limit
	registrants map[string]string
	err         error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{limits: map[string]domain.Limit{}, registrants: map[string]string{}}
}

func (d *memDirectory) add(auction, participant, registrant string, limit domain.Limit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits[auction+"/"+participant] = limit
	if registrant != "" {
		d.registrants[auction+"/"+participant] = registrant
	}
}

func (d *memDirectory) ParticipantLimit(_ context.Context, auction, participant string) (domain.Limit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.Unlimited, d.err
	}
	l, ok := d.limits[auction+"/"+participant]
	if !ok {
		return domain.Unlimited, nil
	}
	return l, nil
}

func (d *memDirectory) RegistrantID(_ context.Context, auction, participant string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	id, ok := d.registrants[auction+"/"+participant]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

type statusCall struct {
	AuctionID    string
	RegistrantID string
	Status       domain.RegistrationStatus
}

type memRegistry struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (r *memRegistry) SetStatus(_ context.Context, auction, registrant string, status domain.RegistrationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, statusCall{auction, registrant, status})
	return nil
}

func (r *memRegistry) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *memRegistry) snapshot() []statusCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusCall(nil), r.calls...)
}

type memAuditStore struct {
	mu   sync.Mutex
	recs map[string]domain.AuditRecord
	err  error
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{recs: map[string]domain.AuditRecord{}}
}

func (s *memAuditStore) InsertAudit(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.recs[rec.ID]; !ok {
		s.recs[rec.ID] = rec
	}
	return nil
}

func (s *memAuditStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memAuditStore) events(participant string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []domain.AuditRecord
	for _, r := range s.recs {
		if r.ParticipantID == participant {
			recs = append(recs, r)
		}
	}
	// ordem de criação
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].CreatedAt.Before(recs[j-1].CreatedAt); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.EventType
	}
	return out
}

// memQueue é uma RetryQueue que só registra.
type memQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job domain.Job) (domain.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return domain.EnqueueResult{}, q.err
	}
	job.Attempts++
	q.jobs = append(q.jobs, job)
	return domain.EnqueueResult{Attempts: job.Attempts}, nil
}

func (q *memQueue) kinds() []domain.JobKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.JobKind, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Kind
	}
	return out
}

// tickClock avança 1ms a cada leitura para manter a ordem dos registros.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *tickClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness monta o Enforcer completo sobre miniredis, com o sistema de registro,
// o store durável e a auditoria em memória.
type harness struct {
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	keys      infra.Keyspace
	dir       *memDirectory
	registry  *memRegistry
	audits    *memAuditStore
	queue     *infra.RedisRetryQueue
	state     *infra.RedisParticipantState
	ledger    *infra.RedisLedger
	stats     *infra.MemoryStatsStore
	clock     *tickClock
	enforcer  *Enforcer
	auditor   *Auditor
	worker    *RetryWorker
	reviews   func() []domain.ReviewItem
	deadCount func() int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		mr:       mr,
		rdb:      rdb,
		keys:     infra.Keyspace{Prefix: "test"},
		dir:      newMemDirectory(),
		registry: &memRegistry{},
		audits:   newMemAuditStore(),
		stats:    infra.NewMemoryStatsStore(),
		clock:    &tickClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.queue = infra.NewRedisRetryQueue(rdb, h.keys, infra.WithQueueClock(h.clock.Now))
	h.state = infra.NewRedisParticipantState(rdb, h.keys)
	h.ledger = infra.NewRedisLedger(rdb, h.keys)

	h.auditor = &Auditor{Store: h.audits, Retry: h.queue, Now: h.clock.Now}
	syncer := &Syncer{Registry: h.registry, State: h.state, Retry: h.queue, Timeout: time.Second, Now: h.clock.Now}
	h.enforcer = &Enforcer{
		Dedup:       infra.NewRedisDedupGate(rdb, h.keys),
		Limits:      infra.NewRedisLimitCache(rdb, h.keys, h.dir),
		Ledger:      h.ledger,
		Flags:       h.state,
		Registrants: infra.NewRedisRegistrantCache(rdb, h.keys, h.dir, nil),
		Syncer:      syncer,
		Audit:       h.auditor,
		Retry:       h.queue,
		Review:      h.queue,
		Stats:       h.stats,
		Now:         h.clock.Now,
	}
	handlers := h.enforcer.Handlers()
	handlers[domain.JobAudit] = h.auditor.Replay
	h.worker = &RetryWorker{Store: h.queue, Handlers: handlers, Batch: 5, Now: h.clock.Now}

	h.reviews = func() []domain.ReviewItem {
		items, err := h.queue.Reviews(context.Background(), 100)
		if err != nil {
			t.Fatalf("reviews: %v", err)
		}
		return items
	}
	h.deadCount = func() int {
		dl, err := h.queue.DeadLetters(context.Background(), 100)
		if err != nil {
			t.Fatalf("dead letters: %v", err)
		}
		return len(dl)
	}
	return h
}

func (h *harness) bid(t *testing.T, auction, lot, bid, participant string) Result {
	t.Helper()
	res, err := h.enforcer.Ingest(context.Background(), domain.BidEvent{
		AuctionID: auction, LotID: lot, BidID: bid, ParticipantID: participant, IsLeading: true,
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", bid, err)
	}
	return res
}

func (h *harness) awaiting(t *testing.T, auction, participant string) bool {
	t.Helper()
	ok, err := h.state.IsAwaiting(context.Background(), auction, participant)
	if err != nil {
		t.Fatalf("IsAwaiting: %v", err)
	}
	return ok
}

func (h *harness) pending(t *testing.T) int64 {
	t.Helper()
	n, err := h.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	return n
}

// drain avança o relógio até depois do próximo atraso e roda o worker.
func (h *harness) drain(t *testing.T, after time.Duration) int {
	t.Helper()
	h.clock.Advance(after)
	n, err := h.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return n
}

func redisZ(score float64, member string) redis.Z {
	return redis.Z{Score: score, Member: member}
}
