package middleware

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/handlers"
)

// RecoveryMiddleware provides panic recovery middleware.
type RecoveryMiddleware struct {
	logger zerolog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
	}
}

// Handler turns a panic into a 500 JSON error response.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.handlePanic(rec, r)
				handlers.WriteError(w, errors.Newf(errors.CodeInternal, "panic: %v", rec))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// handlePanic logs panic information.
func (m *RecoveryMiddleware) handlePanic(rec interface{}, r *http.Request) {
	stack := debug.Stack()
	id, _ := GetRequestID(r.Context())

	m.logger.Error().
		Str("request_id", id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Interface("panic", rec).
		Str("stack", string(stack)).
		Msg("Panic recovered")

	// Also print to stderr for debugging
	fmt.Fprintf(stderr, "PANIC in %s %s: %v\n%s\n", r.Method, r.URL.Path, rec, stack)
}

// stderr is used for panic output
var stderr io.Writer = os.Stderr
