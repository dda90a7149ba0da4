package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/bengobox/signin-service/internal/cache"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (cache.RateResult, error)
}

// RejectionRecorder counts rejected requests per route.
type RejectionRecorder interface {
	RateLimited(route string)
}

// RateLimiter throttles routes per client IP.
type RateLimiter struct {
	limiter  Limiter
	recorder RejectionRecorder
	logger   *zap.Logger
}

// NewRateLimiter wraps limiter. A nil limiter disables throttling.
func NewRateLimiter(limiter Limiter, recorder RejectionRecorder, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{limiter: limiter, recorder: recorder, logger: logger}
}

// Limit returns middleware counting hits against route. Limiter failures let the request through.
func (rl *RateLimiter) Limit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || rl.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := rl.limiter.Allow(r.Context(), route+":"+remoteIP(r))
			if err != nil {
				rl.logger.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				if rl.recorder != nil {
					rl.recorder.RateLimited(route)
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": "too many sign-in attempts, retry later",
					"code":  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
