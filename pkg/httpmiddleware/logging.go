package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// HTTPLogger logs one line per request with method, path, status and
// duration, tagged with the request's correlation ID.
type HTTPLogger struct {
	logger logger.Logger
}

// NewHTTPLogger creates the request logging middleware.
func NewHTTPLogger(log logger.Logger) *HTTPLogger {
	return &HTTPLogger{logger: log}
}

// Middleware returns the HTTP logging handler. It expects to run inside
// CorrelationID so the correlation header is already populated.
func (h *HTTPLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestLogger := h.logger.WithFields(
			logger.StringField("remote_addr", r.RemoteAddr),
			logger.StringField("method", r.Method),
			logger.StringField("path", r.URL.Path),
			logger.StringField(logger.CorrelationIDFieldKey, r.Header.Get(CorrelationHeader)),
		)

		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		requestLogger.Info("HTTP request handled",
			logger.IntField("status", wrapped.Status()),
			logger.IntField("bytes", wrapped.BytesWritten()),
			logger.DurationField("duration", time.Since(start)),
		)
	})
}
