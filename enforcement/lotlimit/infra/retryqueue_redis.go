package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRetryQueue é o backlog durável de jobs: um ZSET com score = scheduledAt (ms)
// e uma lista de dead-letter. Também guarda a fila de revisão manual.
type RedisRetryQueue struct {
	rdb    *redis.Client
	keys   Keyspace
	logger *slog.Logger
	now    func() time.Time

	baseDelay   time.Duration
	maxAttempts int
	lease       time.Duration
}

type RetryQueueOption func(*RedisRetryQueue)

func WithBaseDelay(d time.Duration) RetryQueueOption {
	return func(q *RedisRetryQueue) { q.baseDelay = d }
}

func WithMaxAttempts(n int) RetryQueueOption {
	return func(q *RedisRetryQueue) { q.maxAttempts = n }
}

// WithLease define por quanto tempo um job reservado fica invisível para outros workers.
func WithLease(d time.Duration) RetryQueueOption {
	return func(q *RedisRetryQueue) { q.lease = d }
}

func WithQueueClock(now func() time.Time) RetryQueueOption {
	return func(q *RedisRetryQueue) { q.now = now }
}

func WithQueueLogger(l *slog.Logger) RetryQueueOption {
	return func(q *RedisRetryQueue) { q.logger = l }
}

func NewRedisRetryQueue(rdb *redis.Client, keys Keyspace, opts ...RetryQueueOption) *RedisRetryQueue {
	q := &RedisRetryQueue{
		rdb:         rdb,
		keys:        keys,
		logger:      slog.Default(),
		now:         time.Now,
		baseDelay:   10 * time.Second,
		maxAttempts: 5,
		lease:       time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (q *RedisRetryQueue) Enqueue(ctx context.Context, job domain.Job) (domain.EnqueueResult, error) {
	now := q.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.Attempts++
	delay := domain.BackoffDelay(q.baseDelay, job.Attempts)
	job.ScheduledAt = now.Add(delay)

	raw, err := domain.EncodeJob(job)
	if err != nil {
		return domain.EnqueueResult{}, fmt.Errorf("encode job: %w", err)
	}

	if job.Attempts > q.maxAttempts {
		reason := fmt.Sprintf("exceeded %d attempts", q.maxAttempts)
		if err := q.pushDead(ctx, q.rdb, raw, reason, now); err != nil {
			return domain.EnqueueResult{}, err
		}
		q.logger.Warn("retry job moved to dead-letter",
			"job", job.ID, "kind", job.Kind, "attempts", job.Attempts, "lastError", job.LastError)
		return domain.EnqueueResult{Attempts: job.Attempts, DeadLettered: true}, nil
	}

	if err := q.rdb.ZAdd(ctx, q.keys.RetryQueue(), redis.Z{Score: score(job.ScheduledAt), Member: raw}).Err(); err != nil {
		return domain.EnqueueResult{}, fmt.Errorf("schedule job: %w", err)
	}
	q.logger.Info("retry job scheduled",
		"job", job.ID, "kind", job.Kind, "attempt", job.Attempts, "in", delay)
	return domain.EnqueueResult{Attempts: job.Attempts, ScheduledAt: job.ScheduledAt}, nil
}

func (q *RedisRetryQueue) Claim(ctx context.Context, now time.Time, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	return claimScript.Run(ctx, q.rdb, []string{q.keys.RetryQueue()},
		strconv.FormatInt(now.UnixMilli(), 10),
		n,
		strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10),
	).StringSlice()
}

func (q *RedisRetryQueue) Complete(ctx context.Context, raw string) error {
	return q.rdb.ZRem(ctx, q.keys.RetryQueue(), raw).Err()
}

// DeadLetter tira o job da fila e o guarda na lista de dead-letter numa única transação.
func (q *RedisRetryQueue) DeadLetter(ctx context.Context, raw string, reason string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.keys.RetryQueue(), raw)
	if err := q.pushDead(ctx, pipe, raw, reason, q.now()); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisRetryQueue) pushDead(ctx context.Context, c redis.Cmdable, raw, reason string, at time.Time) error {
	b, err := json.Marshal(domain.DeadLetter{Job: raw, Reason: reason, At: at})
	if err != nil {
		return err
	}
	// dentro de um pipeline o erro só aparece no Exec
	return c.LPush(ctx, q.keys.DeadLetters(), b).Err()
}

// Pending devolve quantos jobs estão agendados.
func (q *RedisRetryQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.keys.RetryQueue()).Result()
}

// DeadLetters lista até n entradas, das mais recentes para as mais antigas.
func (q *RedisRetryQueue) DeadLetters(ctx context.Context, n int64) ([]domain.DeadLetter, error) {
	raws, err := q.rdb.LRange(ctx, q.keys.DeadLetters(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var dl domain.DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			dl = domain.DeadLetter{Job: raw, Reason: "unreadable dead-letter entry"}
		}
		out = append(out, dl)
	}
	return out, nil
}

// Requeue devolve até n dead-letters (as mais antigas primeiro) à fila com tentativas zeradas.
// Entradas cujo job não é legível continuam na dead-letter.
func (q *RedisRetryQueue) Requeue(ctx context.Context, n int) (int, error) {
	moved := 0
	for moved < n {
		raw, err := q.rdb.RPop(ctx, q.keys.DeadLetters()).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}

		job, derr := decodeDeadLetter(raw)
		if derr != nil {
			if err := q.rdb.LPush(ctx, q.keys.DeadLetters(), raw).Err(); err != nil {
				return moved, err
			}
			return moved, fmt.Errorf("requeue: %w", derr)
		}

		job.Attempts = 0
		if _, err := q.Enqueue(ctx, job); err != nil {
			_ = q.rdb.RPush(ctx, q.keys.DeadLetters(), raw).Err()
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisRetryQueue) SubmitReview(ctx context.Context, item domain.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.now()
	}
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.keys.Review(), b).Err()
}

func (q *RedisRetryQueue) Reviews(ctx context.Context, n int64) ([]domain.ReviewItem, error) {
	raws, err := q.rdb.LRange(ctx, q.keys.Review(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReviewItem, 0, len(raws))
	for _, raw := range raws {
		var it domain.ReviewItem
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return nil, fmt.Errorf("review entry: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

func decodeDeadLetter(raw string) (domain.Job, error) {
	var dl domain.DeadLetter
	if err := json.Unmarshal([]byte(raw), &dl); err != nil {
		return domain.Job{}, err
	}
	return domain.DecodeJob(dl.Job)
}
