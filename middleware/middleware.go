// Package middleware wraps host-side handler invocations. The host runs the
// chain around every call it dispatches:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// Any error a middleware returns reaches the guest as CALL_METHOD_FAILED, exactly
// like a handler error; the error text itself stays on the host.
package middleware

import (
	"context"
)

// Invocation describes one call the host is about to run.
type Invocation struct {
	Scope  string // Scope the call arrived on
	Method string
	Args   []any
	Origin string // Trust token of the calling peer
}

type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares so the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
