package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionIDHeader identifies one browser booking session.
const SessionIDHeader = "X-Session-Id"

// Limiter reports whether another request under key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects requests over the limit with 429. On limiter failure the
// request is let through when failOpen is set.
func RateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), rateKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err)
				}
				if !failOpen {
					WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"kind": "unknown", "code": "rate_limiter_unavailable", "message": "try again later"})
					return
				}
				ok = true
			}
			if !ok {
				WriteJSON(w, http.StatusTooManyRequests, map[string]string{"kind": "unknown", "code": "rate_limited", "message": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateKey prefers the booking session and falls back to the client address.
func rateKey(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(SessionIDHeader)); s != "" {
		return "session:" + s
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// MemoryLimiter is a fixed-window limiter for a single instance.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, windows: map[string]*fixedWindow{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	fw := l.windows[key]
	if fw == nil || !now.Before(fw.resetAt) {
		if len(l.windows) > 10000 {
			l.prune(now)
		}
		l.windows[key] = &fixedWindow{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if fw.count >= l.limit {
		return false, nil
	}
	fw.count++
	return true, nil
}

func (l *MemoryLimiter) prune(now time.Time) {
	for k, fw := range l.windows {
		if !now.Before(fw.resetAt) {
			delete(l.windows, k)
		}
	}
}

// RedisLimiter shares the fixed window across portal instances.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

var incrWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate window incr: %w", err)
	}
	return n <= int64(l.limit), nil
}
