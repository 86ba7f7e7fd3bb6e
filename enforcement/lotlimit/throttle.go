package lotlimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Allower é um token bucket por chave (infra.KeyedLimiter).
type Allower interface {
	Allow(key string) bool
}

// ThrottleOptions limita o webhook por origem. A origem é o valor de
// SourceHeader, quando o motor de leilão o envia, ou o host do RemoteAddr.
type ThrottleOptions struct {
	Limiter      Allower
	SourceHeader string
	RetryAfter   time.Duration
}

func (o ThrottleOptions) source(r *http.Request) string {
	if o.SourceHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(o.SourceHeader)); v != "" {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Throttle responde 429 quando a origem esgotou seus tokens. Sem Limiter, não faz nada.
func Throttle(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := strconv.Itoa(max(1, int(opts.RetryAfter/time.Second)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.Limiter.Allow(opts.source(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
