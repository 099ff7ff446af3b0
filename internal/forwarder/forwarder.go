// Package forwarder implements the Forwarder (component C5): it rewrites
// and forwards one inbound request to whichever upstream endpoint the
// Selector picked, handles both buffered and Server-Sent-Events streaming
// responses, and reports the outcome to the Health Tracker, the Freeze
// Manager, the metrics/tracing stack, and the request-log collaborator.
//
// Grounded structurally on pkg/app/run.go's top-level wiring (logger,
// audit, rate limiter constructed once and threaded through) and on
// internal/gateway/webhook.go's dispatch-then-process shape for the
// background request-log writer (record.go).
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/paf/internal/configstore"
	"github.com/relaymesh/paf/internal/freeze"
	"github.com/relaymesh/paf/internal/health"
	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
	"github.com/relaymesh/paf/internal/telemetry"
)

// Metrics is the subset of telemetry.Metrics the Forwarder needs. Declared
// narrowly here so tests can supply a stub without constructing a real
// Prometheus registry.
type Metrics interface {
	RecordRequest(family, endpoint, outcome string)
	RecordFreeze(family, endpoint, reason string)
	ObserveLatency(family string, seconds float64)
}

// Selector is the subset of *selector.Selector the Forwarder needs.
type Selector interface {
	Select(family profile.Family, pool []profile.Endpoint, tracker *health.Tracker, lb profile.LoadBalancerSettings, now time.Time) (profile.Endpoint, bool)
}

// Forwarder is the Forwarder component (C5). Construct one per process and
// share it between the three listeners; family is supplied per call.
type Forwarder struct {
	Store     *configstore.Store
	Tracker   *health.Tracker
	Selector  Selector
	FreezeMgr *freeze.Manager
	Logger    RequestLogger
	Metrics   Metrics
	Client    *http.Client
	Redactor  *security.Redactor

	logger *slog.Logger

	// now and newRequestID are injectable for deterministic tests.
	now          func() time.Time
	newRequestID func() string
}

// New creates a Forwarder. logger may be nil (discarded). client defaults
// to a Transport tuned for streaming passthrough (no response buffering,
// no compression negotiated since the endpoint's accept-encoding is
// stripped before the upstream request is sent).
func New(store *configstore.Store, tracker *health.Tracker, sel Selector, fm *freeze.Manager, reqLogger RequestLogger, metrics Metrics, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if reqLogger == nil {
		reqLogger = NewRingBufferLogger(0)
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Forwarder{
		Store:     store,
		Tracker:   tracker,
		Selector:  sel,
		FreezeMgr: fm,
		Logger:    newDispatchLogger(reqLogger, logger, 256),
		Metrics:   metrics,
		Client: &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 64,
			},
		},
		logger:       logger,
		now:          time.Now,
		newRequestID: func() string { return uuid.NewString() },
	}
}

var _ freeze.Prober = (*Forwarder)(nil)

// Handle implements §4.5: it picks an upstream, rewrites the request,
// forwards it, streams or buffers the response back to w, and logs a
// completed-request record. It never panics on a malformed or absent
// body — sanitisation and JSON decoding failures are logged and
// swallowed, per §7's "local recovery" list.
func (f *Forwarder) Handle(w http.ResponseWriter, r *http.Request, family profile.Family) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "forwarder.handle")
	defer span.End()

	requestID := f.newRequestID()
	start := f.now()

	rec := Record{
		RequestID: requestID,
		Family:    string(family),
		Method:    r.Method,
		Path:      r.URL.Path,
		Timestamp: start,
	}
	defer func() {
		rec.DurationMS = f.now().Sub(start).Milliseconds()
		if f.Redactor != nil && rec.Error != "" {
			rec.Error = f.Redactor.Redact(rec.Error)
		}
		_ = f.Logger.Log(context.Background(), rec)
	}()

	state, err := f.Store.Snapshot(family)
	if err != nil {
		f.logger.Error("forwarder: snapshot failed", "family", family, "error", err)
		rec.Error = err.Error()
		f.writeError(w, http.StatusServiceUnavailable, "no upstream available")
		f.Metrics.RecordRequest(string(family), "", "no_upstream")
		return
	}

	endpoint, ok := f.Selector.Select(family, state.EligiblePool(), f.Tracker, state.LoadBalancer, f.now())
	if !ok {
		rec.Error = ErrNoUpstreamAvailable.Error()
		f.writeError(w, http.StatusServiceUnavailable, "no upstream available")
		f.Metrics.RecordRequest(string(family), "", "no_upstream")
		return
	}
	rec.Endpoint = endpoint.Name
	span.SetAttributes(family2attr(family), endpointAttr(endpoint.Name))

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, int64(security.DefaultMaxMessageSize)+1))
		if err != nil {
			f.logger.Warn("forwarder: reading request body", "request_id", requestID, "error", err)
		}
		if err := security.ValidateMessageSize(body, security.DefaultMaxMessageSize); err != nil {
			rec.Error = err.Error()
			f.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
	}

	if len(body) > 0 {
		if err := security.ValidateJSONDepth(body, security.DefaultMaxJSONDepth); errors.Is(err, security.ErrJSONTooDeep) {
			rec.Error = err.Error()
			f.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			f.logger.Debug("forwarder: body is not JSON, forwarding raw", "request_id", requestID, "error", err)
		} else if family == profile.Anthropic {
			removed := sanitiseAnthropicBody(decoded)
			rec.SanitisedBlocks = removed
			if removed > 0 {
				if reencoded, err := json.Marshal(decoded); err != nil {
					f.logger.Warn("forwarder: re-encoding sanitised body failed, forwarding raw", "request_id", requestID, "error", err)
				} else {
					body = reencoded
				}
			}
		}
	}

	upstream, err := url.Parse(endpoint.BaseURL)
	if err != nil {
		rec.Error = fmt.Sprintf("invalid endpoint base url: %v", err)
		f.writeError(w, http.StatusBadGateway, "upstream misconfigured")
		return
	}
	outHeaders := rewriteHeaders(r.Header, upstream, endpoint, family)

	target := joinUpstreamURL(upstream, r.URL)
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, reqBody)
	if err != nil {
		rec.Error = err.Error()
		f.writeError(w, http.StatusBadGateway, "failed to build upstream request")
		return
	}
	outReq.Header = outHeaders

	streamed := strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
	rec.Streamed = streamed

	upstreamStart := f.now()
	resp, err := f.Client.Do(outReq)
	latency := f.now().Sub(upstreamStart)
	f.Metrics.ObserveLatency(string(family), latency.Seconds())

	if err != nil {
		rec.Error = err.Error()
		f.logger.Warn("forwarder: upstream transport error", "request_id", requestID, "family", family, "endpoint", endpoint.Name, "error", err)
		if ferr := f.FreezeMgr.OnTransportError(family, endpoint.Name, state.LoadBalancer); ferr != nil {
			f.logger.Error("forwarder: freezing after transport error", "error", ferr)
		}
		f.Metrics.RecordRequest(string(family), endpoint.Name, "transport_error")
		f.Metrics.RecordFreeze(string(family), endpoint.Name, "transport_error")
		f.writeError(w, http.StatusBadGateway, fmt.Errorf("%w: %v", ErrUpstreamTransport, err).Error())
		return
	}
	defer resp.Body.Close()

	rec.Status = resp.StatusCode
	span.SetAttributes(statusAttr(resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		if err := f.FreezeMgr.OnSuccess(family, endpoint.Name, state.LoadBalancer); err != nil {
			f.logger.Error("forwarder: recording success", "error", err)
		}
		f.Metrics.RecordRequest(string(family), endpoint.Name, "success")
	} else {
		if err := f.FreezeMgr.OnFailureResponse(family, endpoint.Name, state.Mode, state.LoadBalancer); err != nil {
			f.logger.Error("forwarder: recording failure response", "error", err)
		}
		f.Metrics.RecordRequest(string(family), endpoint.Name, "upstream_status")
		key := health.Key{Family: string(family), Name: endpoint.Name}
		if state.Mode == profile.ModeLoadBalance && f.Tracker.ExceededFailureThreshold(key, state.LoadBalancer.HealthCheck.FailureThreshold) {
			f.Metrics.RecordFreeze(string(family), endpoint.Name, "upstream_status")
		}
	}

	outHeader := w.Header()
	copyResponseHeaders(outHeader, resp.Header)
	w.WriteHeader(resp.StatusCode)

	buffered := teeResponse(w, resp.Body)
	if streamed {
		usage := parseSSEUsage(buffered)
		rec.InputTokens = usage.InputTokens
		rec.OutputTokens = usage.OutputTokens
	}
}

// Probe implements freeze.Prober: it issues a lightweight GET against the
// endpoint's base URL. There is no inbound client request, so the header
// rewrite runs over an empty header set and the probe carries only what the
// rewrite adds itself: Host, Connection, the endpoint credential and, for
// the Anthropic family, x-api-key and the default anthropic-version. A 2xx
// response (or any response at all — reachability is what matters for
// transport-error recovery; upstream auth failures surface through normal
// traffic instead) counts as a successful probe.
func (f *Forwarder) Probe(ctx context.Context, family profile.Family, endpoint profile.Endpoint) error {
	ctx, span := telemetry.Tracer().Start(ctx, "forwarder.probe")
	defer span.End()
	span.SetAttributes(family2attr(family), endpointAttr(endpoint.Name))

	upstream, err := url.Parse(endpoint.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: invalid base url: %v", ErrUpstreamTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}
	req.Header = rewriteHeaders(http.Header{}, upstream, endpoint, family)

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

func (f *Forwarder) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// joinUpstreamURL builds the outbound URL per §4.5 step 6: the endpoint
// base URL, the inbound path verbatim, and the inbound query string.
func joinUpstreamURL(base *url.URL, inbound *url.URL) string {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + inbound.Path
	u.RawQuery = inbound.RawQuery
	return u.String()
}

// copyResponseHeaders copies resp headers to out, per §4.5 step 10,
// stripping content-encoding and content-length: the client must not
// attempt decompression since accept-encoding was stripped from the
// upstream request, and the length no longer applies once headers or
// body may have been altered in transit.
func copyResponseHeaders(out http.Header, resp http.Header) {
	for k, vs := range resp {
		if strings.EqualFold(k, "Content-Encoding") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
}

// teeResponse writes every chunk read from body to w as it arrives —
// flushing immediately so the client sees the first byte as soon as
// upstream emits it — while accumulating a copy for logging and SSE usage
// parsing. A client disconnect or upstream read error simply stops the
// copy; it never panics or leaks the upstream body (the caller closes it).
func teeResponse(w http.ResponseWriter, body io.Reader) []byte {
	flusher, _ := w.(http.Flusher)
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return buf.Bytes()
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return buf.Bytes()
		}
	}
}
