package gateway

import "time"

// Config holds HTTP listener configuration shared by all three servers in
// the Listener Set. Per-family bind ports come from configstore.SystemConfig
// instead of living here, since they are persisted system-wide settings
// rather than gateway-only knobs.
type Config struct {
	Host            string     `yaml:"host"`
	Auth            AuthConfig `yaml:"auth"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 0 // streaming responses must not be cut off by a write deadline
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for the dashboard's /api surface.
// The two proxy listeners are never gated by this — upstream credential
// checks happen per-request via the configured endpoint's own auth_token
// or api_key, not here.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
