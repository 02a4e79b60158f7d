package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/clinicalkb/medrag/config"
)

// RateLimiter admits or rejects a request for a client key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitMiddleware rejects over-limit clients with 429. Limiter errors
// fail open: an unreachable limiter must not take the API down with it.
func RateLimitMiddleware(limiter RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err == nil && !ok {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded, slow down")
			}
			return next(c)
		}
	}
}

// RedisRateLimiter implements a fixed-window counter per client key.
type RedisRateLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

func NewRedisRateLimiter(client *redis.Client, cfg config.RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, requests: cfg.Requests, window: cfg.Window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := fmt.Sprintf("medrag:ratelimit:%s:%d", key, time.Now().Unix()/int64(l.window.Seconds()))
	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		// First hit in this window owns the expiry.
		_ = l.client.Expire(ctx, bucket, l.window).Err()
	}
	return count <= int64(l.requests), nil
}

// MemoryRateLimiter is the single-process fallback used in tests and when
// Redis is not configured.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	windowAt time.Time
	requests int
	window   time.Duration
	now      func() time.Time
}

func NewMemoryRateLimiter(cfg config.RateLimitConfig) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		counts:   make(map[string]int),
		requests: cfg.Requests,
		window:   cfg.Window,
		now:      time.Now,
	}
}

func (l *MemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.windowAt) >= l.window {
		l.counts = make(map[string]int)
		l.windowAt = now
	}
	l.counts[key]++
	return l.counts[key] <= l.requests, nil
}
