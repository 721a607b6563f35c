// Package middleware provides the HTTP middleware chain of the gateway: tracing and
// request logging, metrics, rate limiting, admin auth, CORS and panic recovery.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/zkgate/internal/logging"
)

// LoggingMiddleware tags every request with a trace id, echoes it in X-Trace-ID and logs
// the request once it completes.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get(logging.TraceHeader)
			if traceID == "" || len(traceID) > 128 {
				traceID = logging.NewTraceID()
			}

			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set(logging.TraceHeader, traceID)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}
