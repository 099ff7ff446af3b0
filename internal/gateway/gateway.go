// Package gateway implements the Listener Set (component C6): three
// independent chi-routed HTTP servers — a dashboard/API listener, an
// Anthropic-family proxy listener, and an OpenAI-family proxy listener —
// constructed explicitly by the caller rather than through a module-plugin
// registry, per the proxy's "explicit construction graph" design note.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/relaymesh/paf/internal/configstore"
	"github.com/relaymesh/paf/internal/forwarder"
	"github.com/relaymesh/paf/internal/freeze"
	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
	"github.com/relaymesh/paf/internal/selector"
	"github.com/relaymesh/paf/internal/telemetry"
)

// Gateway owns the three HTTP servers and every dependency their handlers
// need to read or mutate proxy state.
type Gateway struct {
	config Config
	system configstore.SystemConfig
	logger *slog.Logger

	store     *configstore.Store
	selector  *selector.Selector
	freezeMgr *freeze.Manager
	forwarder *forwarder.Forwarder
	logs      *forwarder.RingBufferLogger
	metrics   *telemetry.Metrics

	auditLogger *security.AuditLogger
	rateLimiter *security.RateLimiter

	prober    testProber
	urlFilter *security.URLFilter

	testResultsMu sync.Mutex
	testResults   map[profile.Family]*testProbeDTO

	dashboard *http.Server
	anthropic *http.Server
	openai    *http.Server

	startedAt time.Time
}

// New constructs a Gateway. None of the HTTP servers are started until
// Start is called.
func New(
	cfg Config,
	system configstore.SystemConfig,
	store *configstore.Store,
	sel *selector.Selector,
	freezeMgr *freeze.Manager,
	fwd *forwarder.Forwarder,
	logs *forwarder.RingBufferLogger,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
	auditLogger *security.AuditLogger,
	rateLimiter *security.RateLimiter,
) *Gateway {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	if logs == nil {
		logs = forwarder.NewRingBufferLogger(0)
	}

	g := &Gateway{
		config:      cfg,
		system:      system,
		logger:      logger,
		store:       store,
		selector:    sel,
		freezeMgr:   freezeMgr,
		forwarder:   fwd,
		logs:        logs,
		metrics:     metrics,
		auditLogger: auditLogger,
		rateLimiter: rateLimiter,
	}
	g.prober = newClaudeCLIProber(logger)
	return g
}

// SetURLFilter installs an optional allow/deny list applied to new and
// updated endpoint base URLs. Leaving it unset (the default) accepts any
// base URL, matching an operator who trusts every profile they configure.
func (g *Gateway) SetURLFilter(f *security.URLFilter) {
	g.urlFilter = f
}

// Start binds and serves all three listeners. It returns as soon as every
// listener has successfully bound; serving happens in background
// goroutines, matching internal/gateway/gateway.go's listen-then-serve
// split (bind failures surface synchronously, serve errors are logged).
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	var err error
	g.dashboard, err = g.listenAndServe(g.bind(g.system.WebPort), g.buildDashboardRouter(), "dashboard")
	if err != nil {
		return err
	}
	g.anthropic, err = g.listenAndServe(g.bind(g.system.AnthropicPort), g.buildProxyRouter(profile.Anthropic), "anthropic-proxy")
	if err != nil {
		return err
	}
	g.openai, err = g.listenAndServe(g.bind(g.system.OpenAIPort), g.buildProxyRouter(profile.OpenAI), "openai-proxy")
	if err != nil {
		return err
	}
	return nil
}

func (g *Gateway) bind(port int) string {
	return net.JoinHostPort(g.config.Host, strconv.Itoa(port))
}

func (g *Gateway) listenAndServe(addr string, handler http.Handler, name string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.New("gateway: listen failed for " + name + ": " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "listener", name, "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "listener", name, "error", err)
		}
	}()

	return srv, nil
}

// Stop gracefully shuts down all three listeners, bounded by the
// configured shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")

	var errs []error
	for _, srv := range []*http.Server{g.dashboard, g.anthropic, g.openai} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
