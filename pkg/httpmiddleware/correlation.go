package httpmiddleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// CorrelationHeader carries the request's correlation ID on both the
// inbound request and the response.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID assigns every request a fresh correlation ID. Any
// client-supplied value is discarded so IDs are always ours. The ID is
// stored in the request context for loggers downstream and echoed on the
// response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()

			r.Header.Set(CorrelationHeader, id)
			w.Header().Set(CorrelationHeader, id)

			ctx := logger.ContextWithCorrelationID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
