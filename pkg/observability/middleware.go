package observability

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/assetgate/pkg/contextkeys"
)

// RequestIDHeader carries the request id in and out of the ops server
const RequestIDHeader = "X-Request-ID"

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware assigns a request id, puts a request-scoped logger in the
// context, logs each request at Debug and turns panics into 500s.
func RequestMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = WithLogger(ctx, logger)
			reqLogger := FromContext(ctx)

			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					logPanic(reqLogger, "http handler", rec)
					rw.WriteHeader(http.StatusInternalServerError)
				}
				reqLogger.WithFields(map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      rw.statusCode,
					"duration_ms": time.Since(start).Milliseconds(),
				}).Debug("HTTP request")
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}
