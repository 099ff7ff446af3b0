package gateway

import (
	"time"

	"github.com/relaymesh/paf/internal/profile"
)

// endpointDTO is the JSON-facing view of a profile.Endpoint. The on-disk
// YAML model (profile.Endpoint) uses yaml tags only, so the REST surface
// gets its own tagged mirror rather than leaning on Go's default
// capitalized field names in JSON output.
type endpointDTO struct {
	Name        string     `json:"name"`
	BaseURL     string     `json:"base_url"`
	AuthToken   string     `json:"auth_token,omitempty"`
	APIKey      string     `json:"api_key,omitempty"`
	Weight      float64    `json:"weight"`
	Enabled     bool       `json:"enabled"`
	FreezeUntil *time.Time `json:"freeze_until,omitempty"`
}

func endpointToDTO(e profile.Endpoint) endpointDTO {
	return endpointDTO{
		Name:        e.Name,
		BaseURL:     e.BaseURL,
		AuthToken:   e.AuthToken,
		APIKey:      e.APIKey,
		Weight:      e.Weight,
		Enabled:     e.Enabled,
		FreezeUntil: e.FrozenUntil,
	}
}

func endpointFromDTO(d endpointDTO) profile.Endpoint {
	return profile.Endpoint{
		Name:        d.Name,
		BaseURL:     d.BaseURL,
		AuthToken:   d.AuthToken,
		APIKey:      d.APIKey,
		Weight:      d.Weight,
		Enabled:     d.Enabled,
		FrozenUntil: d.FreezeUntil,
	}
}

// healthCheckDTO mirrors profile.HealthCheckSettings with millisecond
// durations, matching the spec's "(milliseconds)" external-interface notes.
type healthCheckDTO struct {
	Enabled          bool  `json:"enabled"`
	IntervalMS       int64 `json:"interval_ms"`
	TimeoutMS        int64 `json:"timeout_ms"`
	FailureThreshold int   `json:"failure_threshold"`
	SuccessThreshold int   `json:"success_threshold"`
}

func healthCheckToDTO(h profile.HealthCheckSettings) healthCheckDTO {
	return healthCheckDTO{
		Enabled:          h.Enabled,
		IntervalMS:       h.Interval.Milliseconds(),
		TimeoutMS:        h.Timeout.Milliseconds(),
		FailureThreshold: h.FailureThreshold,
		SuccessThreshold: h.SuccessThreshold,
	}
}

func healthCheckFromDTO(d healthCheckDTO) profile.HealthCheckSettings {
	return profile.HealthCheckSettings{
		Enabled:          d.Enabled,
		Interval:         time.Duration(d.IntervalMS) * time.Millisecond,
		Timeout:          time.Duration(d.TimeoutMS) * time.Millisecond,
		FailureThreshold: d.FailureThreshold,
		SuccessThreshold: d.SuccessThreshold,
	}
}

type loadBalancerDTO struct {
	Strategy         string         `json:"strategy"`
	HealthCheck      healthCheckDTO `json:"health_check"`
	FreezeDurationMS int64          `json:"freeze_duration_ms"`
}

func loadBalancerToDTO(lb profile.LoadBalancerSettings) loadBalancerDTO {
	return loadBalancerDTO{
		Strategy:         string(lb.Strategy),
		HealthCheck:      healthCheckToDTO(lb.HealthCheck),
		FreezeDurationMS: lb.FreezeDuration.Milliseconds(),
	}
}

func loadBalancerFromDTO(d loadBalancerDTO) profile.LoadBalancerSettings {
	return profile.LoadBalancerSettings{
		Strategy:       profile.Strategy(d.Strategy),
		HealthCheck:    healthCheckFromDTO(d.HealthCheck),
		FreezeDuration: time.Duration(d.FreezeDurationMS) * time.Millisecond,
	}
}

// familyStateDTO is the JSON-facing view of a profile.FamilyState, used by
// GET /api/configs and GET /api/configs/separated.
type familyStateDTO struct {
	Mode         string          `json:"mode"`
	ActiveName   string          `json:"active_name"`
	Configs      []endpointDTO   `json:"configs"`
	LoadBalancer loadBalancerDTO `json:"loadbalancer"`
}

func familyStateToDTO(s profile.FamilyState) familyStateDTO {
	configs := make([]endpointDTO, len(s.Endpoints))
	for i, e := range s.Endpoints {
		configs[i] = endpointToDTO(e)
	}
	return familyStateDTO{
		Mode:         string(s.Mode),
		ActiveName:   s.ActiveName,
		Configs:      configs,
		LoadBalancer: loadBalancerToDTO(s.LoadBalancer),
	}
}
