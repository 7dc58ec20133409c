package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// PropagateRequestID copies the router-assigned request ID into the
// application context key so handlers and audit records can reference it.
func PropagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(WithRequestID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}
