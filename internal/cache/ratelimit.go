package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateResult describes the state of a rate-limit window after a hit.
type RateResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter counts hits per key in fixed windows (INCR + EXPIRE).
type RateLimiter struct {
	client redis.Cmdable
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter builds a limiter allowing limit hits per key per window.
func NewRateLimiter(client redis.Cmdable, namespace string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	prefix := "rl:"
	if namespace != "" {
		prefix = namespace + ":rl:"
	}
	return &RateLimiter{client: client, prefix: prefix, max: int64(limit), window: window, now: time.Now}
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) (RateResult, error) {
	winStart := l.now().UTC().Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateResult{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	hits := incr.Val()
	res := RateResult{Allowed: hits <= l.max, Remaining: max(l.max-hits, 0)}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.window
		}
	}
	return res, nil
}
