package gateway

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/paf/internal/profile"
)

// buildDashboardRouter assembles the web/API listener: CORS handling,
// Prometheus exposition, the REST surface of spec §6, and the two
// convenience proxy routes (/v1/... for Anthropic, /codex/v1/... for
// OpenAI) the dashboard listener also hosts. Structurally grounded on
// internal/gateway/server.go's chi-mux-with-route-groups shape.
func (g *Gateway) buildDashboardRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(g.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.HandleFunc("/*", g.proxyHandler(profile.Anthropic))
	})
	r.Route("/codex/v1", func(r chi.Router) {
		r.HandleFunc("/*", g.codexProxyHandler())
	})

	r.Route("/api", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.auditLogger, g.rateLimiter))
		}

		r.Get("/status", g.handleStatus())

		r.Get("/configs/separated", g.handleConfigsSeparated())
		r.Get("/configs", g.handleListConfigs())
		r.Post("/configs", g.handleCreateConfig())
		r.Put("/configs/{name}", g.handleUpdateConfig())
		r.Delete("/configs/{name}", g.handleDeleteConfig())
		r.Post("/configs/{name}/activate", g.handleActivateConfig())
		r.Put("/configs/{name}/freeze", g.handleFreezeConfig())
		r.Put("/configs/mode", g.handleSetMode())
		r.Post("/configs/{name}/test", g.handleTestConfig())

		r.Get("/loadbalancer", g.handleGetLoadBalancer())
		r.Put("/loadbalancer", g.handleSetLoadBalancer())

		r.Get("/logs", g.handleListLogs())
		r.Delete("/logs", g.handleClearLogs())
		r.Get("/logs/{id}", g.handleGetLog())
		r.Get("/stats", g.handleStats())
	})

	return r
}

// buildProxyRouter assembles one of the two family-dedicated proxy
// listeners: CORS handling plus an unconditional catch-all dispatch to the
// Forwarder.
func (g *Gateway) buildProxyRouter(family profile.Family) http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/*", g.proxyHandler(family))
	return r
}

func (g *Gateway) proxyHandler(family profile.Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.forwarder.Handle(w, r, family)
	}
}

// codexProxyHandler strips the /codex prefix from the inbound path before
// dispatching to the Forwarder with family=OpenAI, per spec §4.6.
func (g *Gateway) codexProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, "/codex")
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		g.forwarder.Handle(w, r, profile.OpenAI)
	}
}
