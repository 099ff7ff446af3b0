package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
)

// handleConfigsSeparated backs GET /api/configs/separated: both families'
// snapshots plus a computed "current" (the Selector's sticky pick per
// family) and "last_results" (the most recent test-probe outcome per
// family, empty until a probe has run).
func (g *Gateway) handleConfigsSeparated() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := struct {
			Anthropic   familyStateDTO           `json:"anthropic"`
			OpenAI      familyStateDTO           `json:"openai"`
			Current     map[string]string        `json:"current"`
			LastResults map[string]*testProbeDTO `json:"last_results"`
		}{
			Current:     make(map[string]string),
			LastResults: make(map[string]*testProbeDTO),
		}

		for _, family := range profile.Families() {
			snap, err := g.store.Snapshot(family)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			dto := familyStateToDTO(snap)
			switch family {
			case profile.Anthropic:
				out.Anthropic = dto
			case profile.OpenAI:
				out.OpenAI = dto
			}
			out.Current[string(family)] = g.selector.CurrentServerName(family)
			out.LastResults[string(family)] = g.lastTestResult(family)
		}

		writeJSON(w, http.StatusOK, out)
	}
}

// handleListConfigs backs GET /api/configs?service=<family>.
func (g *Gateway) handleListConfigs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		snap, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, familyStateToDTO(snap))
	}
}

// handleCreateConfig backs POST /api/configs?service=<family>: appends a
// new endpoint profile. New profiles default to enabled=true and weight=1
// unless overridden, since the YAML round trip cannot distinguish an
// explicit false from the zero value (see configstore.normalise).
func (g *Gateway) handleCreateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}

		var dto endpointDTO
		dto.Enabled = true
		dto.Weight = 1
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if dto.Name == "" || dto.BaseURL == "" {
			writeError(w, http.StatusBadRequest, "name and base_url are required")
			return
		}
		if g.urlFilter != nil {
			if err := g.urlFilter.Check(dto.BaseURL); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if _, exists := state.Find(dto.Name); exists {
			writeError(w, http.StatusConflict, "a profile with this name already exists")
			return
		}
		state.Endpoints = append(state.Endpoints, endpointFromDTO(dto))

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "create", dto.Name)
		writeJSON(w, http.StatusCreated, endpointToDTO(mustFind(state, dto.Name)))
	}
}

// handleUpdateConfig backs PUT /api/configs/{name}?service=<family>: a
// whole-entry replacement, matching the Config Store's "mutations are
// whole-state replacements" policy. Like handleCreateConfig, enabled and
// weight default before decoding so a PUT body that omits "enabled"
// preserves the spec's documented default (true) instead of silently
// disabling the endpoint.
func (g *Gateway) handleUpdateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		name := chi.URLParam(r, "name")

		var dto endpointDTO
		dto.Enabled = true
		dto.Weight = 1
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		dto.Name = name
		if g.urlFilter != nil && dto.BaseURL != "" {
			if err := g.urlFilter.Check(dto.BaseURL); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		idx := indexOf(state.Endpoints, name)
		if idx < 0 {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		state.Endpoints[idx] = endpointFromDTO(dto)

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "update", name)
		writeJSON(w, http.StatusOK, endpointToDTO(state.Endpoints[idx]))
	}
}

// handleDeleteConfig backs DELETE /api/configs/{name}?service=<family>.
func (g *Gateway) handleDeleteConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		name := chi.URLParam(r, "name")

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		idx := indexOf(state.Endpoints, name)
		if idx < 0 {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		state.Endpoints = append(state.Endpoints[:idx], state.Endpoints[idx+1:]...)
		if state.ActiveName == name {
			state.ActiveName = ""
		}

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "delete", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleActivateConfig backs POST /api/configs/{name}/activate?service=<family>:
// sets the manual-mode active profile. It does not itself switch the family
// into manual mode — that is PUT /api/configs/mode's job.
func (g *Gateway) handleActivateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		name := chi.URLParam(r, "name")

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		e, exists := state.Find(name)
		if !exists {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if !e.Enabled {
			writeError(w, http.StatusConflict, "profile is disabled")
			return
		}
		state.ActiveName = name

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "activate", name)
		writeJSON(w, http.StatusOK, familyStateToDTO(state))
	}
}

type freezeRequest struct {
	Freeze     bool  `json:"freeze"`
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// handleFreezeConfig backs PUT /api/configs/{name}/freeze?service=<family>:
// an operator-driven override of the same frozen-until field the Freeze
// Manager maintains automatically. Freezing here extends (never shortens)
// an existing freeze, mirroring freeze.Manager.freeze's monotonicity rule;
// unfreezing clears it outright, an explicit operator action rather than a
// probe-earned thaw.
func (g *Gateway) handleFreezeConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		name := chi.URLParam(r, "name")

		var req freezeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		idx := indexOf(state.Endpoints, name)
		if idx < 0 {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}

		if !req.Freeze {
			state.Endpoints[idx].FrozenUntil = nil
		} else {
			duration := time.Duration(req.DurationMS) * time.Millisecond
			if duration <= 0 {
				duration = state.LoadBalancer.FreezeDuration
			}
			if duration <= 0 {
				duration = time.Minute
			}
			deadline := time.Now().Add(duration)
			existing := state.Endpoints[idx].FrozenUntil
			if existing == nil || deadline.After(*existing) {
				state.Endpoints[idx].FrozenUntil = &deadline
			}
		}

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "freeze", name)
		writeJSON(w, http.StatusOK, endpointToDTO(state.Endpoints[idx]))
	}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode backs PUT /api/configs/mode?service=<family>.
func (g *Gateway) handleSetMode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		var req modeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		mode := profile.Mode(req.Mode)
		if mode != profile.ModeManual && mode != profile.ModeLoadBalance {
			writeError(w, http.StatusBadRequest, "mode must be manual or load_balance")
			return
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		state.Mode = mode

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "set_mode", string(mode))
		writeJSON(w, http.StatusOK, familyStateToDTO(state))
	}
}

// handleGetLoadBalancer backs GET /api/loadbalancer?service=<family>.
func (g *Gateway) handleGetLoadBalancer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, loadBalancerToDTO(state.LoadBalancer))
	}
}

// handleSetLoadBalancer backs PUT /api/loadbalancer?service=<family>.
func (g *Gateway) handleSetLoadBalancer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		var dto loadBalancerDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		state.LoadBalancer = loadBalancerFromDTO(dto)

		if err := g.store.Save(family, state); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.auditConfigChange(r, family, "set_loadbalancer", "")
		writeJSON(w, http.StatusOK, loadBalancerToDTO(state.LoadBalancer))
	}
}

// handleListLogs backs GET /api/logs?limit=<n>.
func (g *Gateway) handleListLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		writeJSON(w, http.StatusOK, g.logs.List(limit))
	}
}

// handleClearLogs backs DELETE /api/logs.
func (g *Gateway) handleClearLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		g.logs.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetLog backs GET /api/logs/{id}.
func (g *Gateway) handleGetLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, ok := g.logs.Find(id)
		if !ok {
			writeError(w, http.StatusNotFound, "log record not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleStats backs GET /api/stats.
func (g *Gateway) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.logs.Stats())
	}
}

// auditConfigChange logs a config_change audit event if an audit logger is
// configured. Secrets embedded in the config (auth_token, api_key) never
// reach Detail/Metadata, so there is nothing for the redactor to strip here
// beyond the profile name and the action taken.
func (g *Gateway) auditConfigChange(r *http.Request, family profile.Family, action, name string) {
	if g.auditLogger == nil {
		return
	}
	g.auditLogger.Log(security.AuditEvent{
		Type:     security.EventConfigChange,
		Family:   string(family),
		Endpoint: name,
		Detail:   action,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
		},
	})
}

func indexOf(endpoints []profile.Endpoint, name string) int {
	for i, e := range endpoints {
		if e.Name == name {
			return i
		}
	}
	return -1
}

func mustFind(state profile.FamilyState, name string) profile.Endpoint {
	e, _ := state.Find(name)
	return e
}
