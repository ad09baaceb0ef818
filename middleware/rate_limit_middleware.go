package middleware

import (
	"golang.org/x/time/rate"

	"fast-rpc/ferr"
	"fast-rpc/message"
	"fast-rpc/server"
)

// RateLimitMiddleware gates handler invocation behind a token-bucket
// limiter shared across every request dispatched through it. This is
// distinct from the connection-level transport.RateLimited writer: that one
// throttles bytes already being sent by a running handler, this one
// decides whether the handler runs at all.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w server.Writer, args []any) {
			if !limiter.Allow() {
				w.Fail(message.ErrorPayload{
					Name:    string(ferr.CategoryMisc),
					Message: "rate limit exceeded",
				})
				return
			}
			next.Invoke(w, args)
		})
	}
}
