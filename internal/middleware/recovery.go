package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/zkgate/internal/errors"
	internalhttputil "github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/logging"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs the stack.
func RecoveryMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":  fmt.Sprint(rec),
					"path":   r.URL.Path,
					"method": r.Method,
					"stack":  string(debug.Stack()),
				}).Error("Recovered from handler panic")

				if rw, ok := w.(*responseWriter); ok && rw.written {
					return
				}
				internalhttputil.WriteServiceError(w, r, errors.Internal("internal server error", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
