// Package profile defines the data model shared by the config store,
// health tracker, selector, and freeze manager: endpoint profiles and the
// per-family state that wraps them.
package profile

import "time"

// Family identifies one of the two upstream ecosystems this proxy fronts.
type Family string

// The two families the proxy supports. Each has an independent pool,
// load balancer, and listener.
const (
	Anthropic Family = "anthropic"
	OpenAI    Family = "openai"
)

// Families returns the known family names in a stable order.
func Families() []Family {
	return []Family{Anthropic, OpenAI}
}

// Mode selects how a family's pool is consulted by the Selector.
type Mode string

const (
	// ModeManual always prefers ActiveName (if enabled), never load-balancing.
	ModeManual Mode = "manual"

	// ModeLoadBalance distributes requests across all enabled endpoints.
	ModeLoadBalance Mode = "load_balance"
)

// Strategy is the load-balancing algorithm used in ModeLoadBalance.
type Strategy string

const (
	StrategyWeighted   Strategy = "weighted"
	StrategyRoundRobin Strategy = "round-robin"
)

// Endpoint is one upstream entry within a family: a base URL, at most one
// credential, a weight, and lifecycle flags. Endpoint values are always
// replaced wholesale by the Config Store — nothing mutates a field in
// place once a snapshot has been published to readers.
type Endpoint struct {
	Name        string     `yaml:"name"`
	BaseURL     string     `yaml:"base_url"`
	AuthToken   string     `yaml:"auth_token,omitempty"`
	APIKey      string     `yaml:"api_key,omitempty"`
	Weight      float64    `yaml:"weight"`
	Enabled     bool       `yaml:"enabled"`
	FrozenUntil *time.Time `yaml:"freeze_until,omitempty"`
}

// IsFrozen reports whether the endpoint is quarantined at instant now.
func (e Endpoint) IsFrozen(now time.Time) bool {
	return e.FrozenUntil != nil && e.FrozenUntil.After(now)
}

// Clone returns a deep copy so that callers can't mutate a profile another
// goroutine is currently reading from a published snapshot.
func (e Endpoint) Clone() Endpoint {
	if e.FrozenUntil == nil {
		return e
	}
	t := *e.FrozenUntil
	e.FrozenUntil = &t
	return e
}

// HealthCheckSettings controls threshold-based health tracking for a family.
type HealthCheckSettings struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// LoadBalancerSettings holds per-family load-balancer configuration.
type LoadBalancerSettings struct {
	Strategy       Strategy            `yaml:"strategy"`
	HealthCheck    HealthCheckSettings `yaml:"health_check"`
	FreezeDuration time.Duration       `yaml:"freeze_duration"`
}

// FamilyState is the ordered list of endpoint profiles plus the mode and
// load-balancer settings for one family. It is always replaced wholesale
// by the Config Store; nothing holds a mutable reference into it.
type FamilyState struct {
	Mode         Mode                 `yaml:"mode"`
	ActiveName   string               `yaml:"active_name"`
	Endpoints    []Endpoint           `yaml:"configs"`
	LoadBalancer LoadBalancerSettings `yaml:"loadbalancer"`
}

// Clone returns a deep copy of the family state, safe to mutate without
// affecting the published snapshot.
func (f FamilyState) Clone() FamilyState {
	out := f
	out.Endpoints = make([]Endpoint, len(f.Endpoints))
	for i, e := range f.Endpoints {
		out.Endpoints[i] = e.Clone()
	}
	return out
}

// Find returns the endpoint with the given name and whether it exists.
func (f FamilyState) Find(name string) (Endpoint, bool) {
	for _, e := range f.Endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Active returns the manual-mode active endpoint, if set and enabled.
func (f FamilyState) Active() (Endpoint, bool) {
	if f.ActiveName == "" {
		return Endpoint{}, false
	}
	e, ok := f.Find(f.ActiveName)
	if !ok || !e.Enabled {
		return Endpoint{}, false
	}
	return e, true
}

// EligiblePool returns the slice of endpoints the Selector may consider.
// In ModeLoadBalance this is every enabled endpoint; in ModeManual it is
// at most the single active endpoint (if enabled).
func (f FamilyState) EligiblePool() []Endpoint {
	if f.Mode == ModeManual {
		if e, ok := f.Active(); ok {
			return []Endpoint{e}
		}
		return nil
	}

	pool := make([]Endpoint, 0, len(f.Endpoints))
	for _, e := range f.Endpoints {
		if e.Enabled {
			pool = append(pool, e)
		}
	}
	return pool
}
