package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/crestlabs/crest/internal/logging"
)

// RecoveryMiddleware recovers from panics in HTTP handlers, logs the panic
// with a stack trace and responds with a 500.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := Errorf("panic recovered: %v", rec).
						WithOperation(r.Method + " " + r.URL.Path).
						WithComponent("http")

					logger.WithFields(map[string]interface{}{
						"panic":  fmt.Sprintf("%v", rec),
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
					}).Error("recovered from panic in handler")

					WriteError(w, err, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes a plain-text error response. Internal details are not
// exposed for 5xx responses.
func WriteError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)

	msg := http.StatusText(status)
	if status < http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}
	fmt.Fprintln(w, msg)
}
