package middleware

import (
	"time"

	"fast-rpc/ferr"
	"fast-rpc/message"
	"fast-rpc/server"
)

// TimeoutMiddleware fails the request if next's Invoke call hasn't
// returned within timeout. Fail is safe to call even if the handler has
// already terminated the request on its own: terminal writes after the
// first are silently dropped, so a handler that
// finishes just as the deadline fires never double-terminates.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w server.Writer, args []any) {
			done := make(chan struct{})
			go func() {
				next.Invoke(w, args)
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(timeout):
				w.Fail(message.ErrorPayload{
					Name:    string(ferr.CategoryMisc),
					Message: "request timed out",
				})
			}
		})
	}
}
