package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LoggingMiddleware logs every invocation with its duration, and the error when
// the call failed.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			start := time.Now()
			result, err := next(ctx, inv)
			event := logger.Debug()
			if err != nil {
				event = logger.Warn().Err(err)
			}
			event.
				Str("scope", inv.Scope).
				Str("method", inv.Method).
				Str("origin", inv.Origin).
				Dur("duration", time.Since(start)).
				Msg("call handled")
			return result, err
		}
	}
}
