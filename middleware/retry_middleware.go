package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// retryable marks a handler error as transient.
type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// Retryable wraps err so RetryMiddleware will run the handler again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

func IsRetryable(err error) bool {
	var r *retryable
	return errors.As(err, &r)
}

// RetryMiddleware re-runs a handler that failed with a Retryable error, with
// exponential backoff starting at baseDelay. Other errors return immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			result, err := next(ctx, inv)
			for i := 0; i < maxRetries && IsRetryable(err); i++ {
				log.Debug().Int("attempt", i+1).Str("method", inv.Method).Err(err).Msg("retrying call")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(baseDelay * time.Duration(1<<i)):
				}
				result, err = next(ctx, inv)
			}
			return result, err
		}
	}
}
