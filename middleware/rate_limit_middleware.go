package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware admits calls through a token bucket shared by every method.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, inv)
		}
	}
}

// PerOriginRateLimit keeps one bucket per calling peer, so a chatty guest cannot
// starve the others.
func PerOriginRateLimit(r float64, burst int) Middleware {
	buckets := newLimiterSet(r, burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			if !buckets.get(inv.Origin).Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, inv)
		}
	}
}
