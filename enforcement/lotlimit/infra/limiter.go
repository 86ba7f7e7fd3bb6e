package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter mantém um token bucket (x/time/rate) por chave: por leilão nas
// chamadas ao sistema de registro (Wait) e por origem no webhook (Allow).
// Buckets sem uso há mais de idleTTL são descartados na próxima consulta.
type KeyedLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	*rate.Limiter
	used time.Time
}

type KeyedLimiterOption func(*KeyedLimiter)

func WithIdleTTL(d time.Duration) KeyedLimiterOption {
	return func(l *KeyedLimiter) { l.idleTTL = d }
}

func WithLimiterClock(now func() time.Time) KeyedLimiterOption {
	return func(l *KeyedLimiter) { l.now = now }
}

// NewKeyedLimiter com rps <= 0 não limita.
func NewKeyedLimiter(rps float64, burst int, opts ...KeyedLimiterOption) *KeyedLimiter {
	l := &KeyedLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if rps <= 0 {
		l.rps = rate.Inf
	}
	for _, opt := range opts {
		opt(l)
	}
	l.swept = l.now()
	return l
}

// Wait implementa domain.Throttle.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

func (l *KeyedLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Len devolve quantos buckets estão vivos.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) bucket(key string) *bucket {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idleTTL > 0 && now.Sub(l.swept) >= l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.used) >= l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.used = now
	return b
}
