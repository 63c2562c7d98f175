package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Prefix namespaces the Redis counters. Defaults to "ratelimit:".
	Prefix string
}

// rateLimiter keeps one counter per key and window in Redis so that every
// API instance shares the same budget.
type rateLimiter struct {
	cfg    RateLimitConfig
	client redis.UniversalClient
	now    func() time.Time
}

func newRateLimiter(client redis.UniversalClient, cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit:"
	}
	return &rateLimiter{cfg: cfg, client: client, now: time.Now}
}

// allow counts the request against key and reports whether it is within the
// limit. Rejected requests are counted too, so a client hammering the API
// stays limited.
func (rl *rateLimiter) allow(ctx context.Context, key string, now time.Time) (remaining int, resetAt time.Time, allowed bool, err error) {
	window := rl.cfg.Window
	currStart := now.Truncate(window)
	prevStart := currStart.Add(-window)
	currKey := rl.cfg.Prefix + key + ":" + strconv.FormatInt(currStart.Unix(), 10)
	prevKey := rl.cfg.Prefix + key + ":" + strconv.FormatInt(prevStart.Unix(), 10)

	var (
		incr *redis.IntCmd
		prev *redis.StringCmd
	)
	_, err = rl.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, currKey)
		p.Expire(ctx, currKey, 2*window)
		prev = p.Get(ctx, prevKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, true, errors.Wrap(err, "rate limit counters")
	}

	prevCount, _ := prev.Float64()
	currCount := float64(incr.Val())

	// Weight the previous window by how much of it overlaps the sliding window.
	overlap := 1.0 - now.Sub(currStart).Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	effective := prevCount*overlap + currCount
	resetAt = currStart.Add(window)

	if effective > float64(rl.cfg.Max) {
		return 0, resetAt, false, nil
	}
	remaining = int(float64(rl.cfg.Max) - effective)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true, nil
}

// RateLimit returns a middleware that enforces a per-key sliding window rate
// limit backed by Redis. When the limit is exceeded, it responds with 429 Too
// Many Requests and a JSON body. Every response includes X-RateLimit-Limit,
// X-RateLimit-Remaining, and X-RateLimit-Reset headers.
//
// Requests are let through when Redis is unavailable.
func RateLimit(client redis.UniversalClient, cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(newRateLimiter(client, cfg))
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.cfg.KeyFunc(r)
			now := rl.now()

			remaining, resetAt, allowed, err := rl.allow(r.Context(), key, now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := resetAt.Sub(now)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":429,"message":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may contain a comma-separated list; use the first.
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
