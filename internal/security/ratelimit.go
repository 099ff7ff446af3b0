package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits for the dashboard API.
type RateLimitConfig struct {
	AuthAttemptsPerMin  int `yaml:"auth_attempts_per_min"`
	ProbeAttemptsPerMin int `yaml:"probe_attempts_per_min"`
}

// rateLimitConfigDefaults returns a config with sensible defaults.
func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		AuthAttemptsPerMin:  20,
		ProbeAttemptsPerMin: 30,
	}
}

// RateLimiter implements sliding window rate limiting using stdlib only.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults. The "auth" bucket
// guards authMiddleware against credential-guessing against the dashboard
// API; the "probe" bucket guards handleTestConfig against an operator (or
// a misbehaving dashboard client) hammering an upstream with test traffic.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.AuthAttemptsPerMin <= 0 {
		cfg.AuthAttemptsPerMin = defaults.AuthAttemptsPerMin
	}
	if cfg.ProbeAttemptsPerMin <= 0 {
		cfg.ProbeAttemptsPerMin = defaults.ProbeAttemptsPerMin
	}

	return &RateLimiter{
		config: cfg,
		now:    time.Now,
		buckets: map[string]*bucket{
			"auth": {
				window: time.Minute,
				limit:  cfg.AuthAttemptsPerMin,
			},
			"probe": {
				window: time.Minute,
				limit:  cfg.ProbeAttemptsPerMin,
			},
		},
	}
}

// Allow checks whether an event of the given kind is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// kind must be one of: "auth", "probe".
func (rl *RateLimiter) Allow(kind string) error {
	return rl.AllowN(kind, 1)
}

// AllowN checks whether n events of the given kind are allowed at once.
func (rl *RateLimiter) AllowN(kind string, n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		// Unknown kind = no limit configured.
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events)+n > b.limit {
		return ErrRateLimited
	}

	for range n {
		b.events = append(b.events, now)
	}
	return nil
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Find the first event within the window (events are chronologically ordered).
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
