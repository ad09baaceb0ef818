// Package middleware adapts the server's handler chain-of-responsibility:
// each Middleware wraps a Handler, and Chain composes several into the
// onion model Chain(A, B, C)(handler) == A(B(C(handler))).
package middleware

import "fast-rpc/server"

type Middleware func(next server.Handler) server.Handler

// Chain combines middlewares in the order given: the first runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next server.Handler) server.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
