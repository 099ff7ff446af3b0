package gateway

import "net/http"

// corsMiddleware answers every OPTIONS preflight with a wildcard 204 and
// stamps the same wildcard headers on actual responses, per spec §4.6
// ("each listener handles CORS preflight by responding 204 with wildcard
// allow-methods/headers"). Generalized from internal/gateway/auth.go's
// middleware-wrapping style to a concern the teacher never needed (its
// admin API had no browser-facing dashboard of its own).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
