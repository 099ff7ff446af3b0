package gateway

import (
	"net/http"
	"time"
)

// statusResponse is the JSON response for GET /api/status.
type statusResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// handleStatus returns an http.HandlerFunc for GET /api/status. The gateway
// reports "ok" once all three listeners have bound; uptime is seconds since
// Start.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			Status: "ok",
			Uptime: time.Since(g.startedAt).Seconds(),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
