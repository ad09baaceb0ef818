package middleware

import (
	"time"

	"github.com/rs/zerolog"

	"fast-rpc/server"
)

// LoggingMiddleware logs one line per request invocation with its
// connection id, msgid, method, and duration.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w server.Writer, args []any) {
			start := time.Now()
			next.Invoke(w, args)
			log.Info().
				Int64("conn_id", w.ConnectionID()).
				Int64("msgid", w.RequestID()).
				Str("rpc_method", w.Method()).
				Dur("duration", time.Since(start)).
				Msg("request dispatched")
		})
	}
}
