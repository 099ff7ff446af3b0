package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/relaymesh/paf/internal/profile"
)

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a {"error": message} JSON body with the given status.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// familyFromQuery resolves the ?service= query parameter to a profile.Family,
// defaulting to Anthropic when absent (the dashboard's primary family) and
// rejecting anything else.
func familyFromQuery(r *http.Request) (profile.Family, bool) {
	service := r.URL.Query().Get("service")
	if service == "" {
		service = string(profile.Anthropic)
	}
	for _, f := range profile.Families() {
		if string(f) == service {
			return f, true
		}
	}
	return "", false
}
