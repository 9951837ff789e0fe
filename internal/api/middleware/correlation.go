package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/domain"
)

// CorrelationID tags every request with a correlation ID: the caller's
// X-Correlation-ID header when present, a fresh UUID otherwise.
//
// The ID is placed on the request context via the domain helpers so the
// dispatcher can stamp it onto the transaction's metadata; from there it
// follows the job through the worker and is visible on the admin
// transaction endpoints, giving an end-to-end trace of one submission.
// The response echoes the ID back so callers can correlate their side.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(domain.WithCorrelationID(r.Context(), id)))
	})
}
