// Package freeze implements the Freeze Manager (component C4): it turns
// sustained upstream failures into bounded quarantines recorded on the
// endpoint's profile, and drives a periodic re-probe loop that thaws
// quarantined endpoints once they answer successfully again.
//
// The re-probe loop itself is driven by reprobeScheduler (scheduler.go), a
// once-per-minute robfig/cron/v3 tick per family with a per-family TryLock
// so a stuck round skips rather than piles up. On top of that per-family
// guard this package adds a per-*profile* in-flight guard (a concurrent
// set keyed by family+name) so a slow probe against one endpoint never
// delays probes against the others in the same round.
package freeze

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/paf/internal/configstore"
	"github.com/relaymesh/paf/internal/health"
	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
)

// Prober issues one health-check request against endpoint and reports
// whether it succeeded. The Forwarder supplies the real implementation so
// probes reuse the exact same request path (and therefore the same
// header-rewrite and credential-injection rules) as live traffic.
type Prober interface {
	Probe(ctx context.Context, family profile.Family, endpoint profile.Endpoint) error
}

// Manager coordinates the health tracker, the config store, and the
// re-probe loop. It never computes selection or forwarding logic itself.
type Manager struct {
	store   *configstore.Store
	tracker *health.Tracker
	prober  Prober
	audit   *security.AuditLogger
	logger  *slog.Logger
	now     func() time.Time

	inflight sync.Map // key: health.Key -> struct{}{}

	mu        sync.Mutex
	scheduler *reprobeScheduler
}

// New creates a Manager. prober may be nil until the Forwarder is wired up
// by the caller (see SetProber); the re-probe loop no-ops until it is set.
func New(store *configstore.Store, tracker *health.Tracker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:   store,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// SetProber wires the Forwarder in after construction, breaking the import
// cycle that would otherwise exist between the two packages.
func (m *Manager) SetProber(p Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prober = p
}

// SetAuditLogger wires in the audit logger after construction. Until set,
// freeze/unfreeze/re-probe events are simply not recorded.
func (m *Manager) SetAuditLogger(a *security.AuditLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = a
}

func (m *Manager) logAudit(eventType security.EventType, family profile.Family, endpointName, detail string) {
	m.mu.Lock()
	audit := m.audit
	m.mu.Unlock()
	if audit == nil {
		return
	}
	audit.Log(security.AuditEvent{
		Type:     eventType,
		Family:   string(family),
		Endpoint: endpointName,
		Detail:   detail,
	})
}

// OnFailureResponse records a non-2xx/3xx upstream response. If the
// endpoint's consecutive-failure count crosses the family's configured
// threshold and the family is in load-balance mode, the endpoint is frozen.
// Manual-mode endpoints are never frozen on response status alone.
func (m *Manager) OnFailureResponse(family profile.Family, endpointName string, mode profile.Mode, lb profile.LoadBalancerSettings) error {
	key := health.Key{Family: string(family), Name: endpointName}
	m.tracker.MarkFailure(key, lb.HealthCheck.FailureThreshold)

	if mode != profile.ModeLoadBalance {
		return nil
	}
	if !m.tracker.ExceededFailureThreshold(key, lb.HealthCheck.FailureThreshold) {
		return nil
	}
	return m.freeze(family, endpointName, lb.FreezeDuration)
}

// OnTransportError records a connect/DNS/cancellation failure against the
// endpoint and freezes it unconditionally, regardless of mode or threshold:
// a transport error signals a configuration or network fault, not a
// transient upstream hiccup.
func (m *Manager) OnTransportError(family profile.Family, endpointName string, lb profile.LoadBalancerSettings) error {
	key := health.Key{Family: string(family), Name: endpointName}
	m.tracker.MarkFailure(key, lb.HealthCheck.FailureThreshold)
	return m.freeze(family, endpointName, lb.FreezeDuration)
}

// OnSuccess records a successful upstream response or probe and clears any
// standing freeze on the endpoint.
func (m *Manager) OnSuccess(family profile.Family, endpointName string, lb profile.LoadBalancerSettings) error {
	key := health.Key{Family: string(family), Name: endpointName}
	m.tracker.MarkSuccess(key, lb.HealthCheck.SuccessThreshold)
	return m.unfreeze(family, endpointName)
}

// freeze extends (never shortens) the endpoint's frozen-until deadline.
func (m *Manager) freeze(family profile.Family, endpointName string, duration time.Duration) error {
	if duration <= 0 {
		duration = time.Minute
	}
	changed, err := m.mutateEndpointChanged(family, endpointName, func(e *profile.Endpoint) bool {
		deadline := m.now().Add(duration)
		if e.FrozenUntil != nil && e.FrozenUntil.After(deadline) {
			return false // existing freeze already extends further; never shorten it.
		}
		e.FrozenUntil = &deadline
		return true
	})
	if err == nil && changed {
		m.logAudit(security.EventFreeze, family, endpointName, fmt.Sprintf("frozen for %s", duration))
	}
	return err
}

// unfreeze clears frozen-until if set.
func (m *Manager) unfreeze(family profile.Family, endpointName string) error {
	changed, err := m.mutateEndpointChanged(family, endpointName, func(e *profile.Endpoint) bool {
		if e.FrozenUntil == nil {
			return false
		}
		e.FrozenUntil = nil
		return true
	})
	if err == nil && changed {
		m.logAudit(security.EventUnfreeze, family, endpointName, "thawed")
	}
	return err
}

// mutateEndpoint loads the latest snapshot, applies mutate to the named
// endpoint, and saves back only if mutate reports a change. Endpoints not
// found in the current pool (deleted mid-flight) are silently ignored.
func (m *Manager) mutateEndpoint(family profile.Family, endpointName string, mutate func(*profile.Endpoint) bool) error {
	_, err := m.mutateEndpointChanged(family, endpointName, mutate)
	return err
}

// mutateEndpointChanged is mutateEndpoint but also reports whether mutate
// actually changed anything, so callers can condition audit logging on a
// real state transition rather than logging every no-op call.
func (m *Manager) mutateEndpointChanged(family profile.Family, endpointName string, mutate func(*profile.Endpoint) bool) (bool, error) {
	state, err := m.store.Snapshot(family)
	if err != nil {
		return false, err
	}

	changed := false
	for i := range state.Endpoints {
		if state.Endpoints[i].Name != endpointName {
			continue
		}
		if mutate(&state.Endpoints[i]) {
			changed = true
		}
		break
	}
	if !changed {
		return false, nil
	}
	return true, m.store.Save(family, state)
}

// Start begins the once-per-minute re-probe loop, one scheduler tick per
// known family so a stuck probe round in one family never delays the
// other's.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scheduler = newReprobeScheduler(m.logger)
	return m.scheduler.start(profile.Families(), m.reprobeFamily)
}

// Stop halts the re-probe loop, waiting for any in-flight round to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.scheduler
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.stop(ctx)
}

// reprobeFamily scans family's pool for endpoints whose freeze has elapsed
// and issues one probe per profile, skipping any endpoint that already has
// a probe in flight.
func (m *Manager) reprobeFamily(ctx context.Context, family profile.Family) {
	m.mu.Lock()
	prober := m.prober
	m.mu.Unlock()
	if prober == nil {
		return
	}

	state, err := m.store.Snapshot(family)
	if err != nil {
		m.logger.Error("freeze: snapshot failed during re-probe", "family", family, "error", err)
		return
	}

	now := m.now()
	for _, e := range state.Endpoints {
		if e.FrozenUntil == nil || e.FrozenUntil.After(now) {
			continue
		}
		key := health.Key{Family: string(family), Name: e.Name}
		if _, alreadyRunning := m.inflight.LoadOrStore(key, struct{}{}); alreadyRunning {
			continue
		}
		go m.probeOne(ctx, family, e, state.LoadBalancer, key)
	}
}

func (m *Manager) probeOne(ctx context.Context, family profile.Family, endpoint profile.Endpoint, lb profile.LoadBalancerSettings, key health.Key) {
	defer m.inflight.Delete(key)

	m.mu.Lock()
	prober := m.prober
	m.mu.Unlock()

	timeout := lb.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := prober.Probe(probeCtx, family, endpoint); err != nil {
		m.logger.Warn("freeze: re-probe failed", "family", family, "endpoint", endpoint.Name, "error", err)
		m.logAudit(security.EventProbeTest, family, endpoint.Name, fmt.Sprintf("re-probe failed: %v", err))
		if err := m.OnTransportError(family, endpoint.Name, lb); err != nil {
			m.logger.Error("freeze: recording failed re-probe", "family", family, "endpoint", endpoint.Name, "error", err)
		}
		return
	}

	m.logger.Info("freeze: re-probe succeeded, thawing", "family", family, "endpoint", endpoint.Name)
	m.logAudit(security.EventProbeTest, family, endpoint.Name, "re-probe succeeded")
	if err := m.OnSuccess(family, endpoint.Name, lb); err != nil {
		m.logger.Error("freeze: recording successful re-probe", "family", family, "endpoint", endpoint.Name, "error", err)
	}
}
