package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrHandlerTimeout = errors.New("middleware: handler timed out")

// TimeOutMiddleware bounds handler time. The handler keeps running in its
// goroutine after the deadline but its result is discarded; handlers that honor
// ctx stop early.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{nil, fmt.Errorf("handler panicked: %v", r)}
					}
				}()
				result, err := next(ctx, inv)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
