package configstore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SystemConfig carries the system-wide settings named in the spec's
// external-interfaces section: the dashboard web port, the per-family
// proxy ports, the log level, and the data directory.
type SystemConfig struct {
	WebPort       int    `yaml:"web_port"`
	AnthropicPort int    `yaml:"anthropic_port"`
	OpenAIPort    int    `yaml:"openai_port"`
	LogLevel      string `yaml:"log_level"`
	DataDir       string `yaml:"data_dir"`
}

// defaults fills zero-value fields with the documented defaults.
func (c *SystemConfig) defaults() {
	if c.WebPort == 0 {
		c.WebPort = 8800
	}
	if c.AnthropicPort == 0 {
		c.AnthropicPort = 8801
	}
	if c.OpenAIPort == 0 {
		c.OpenAIPort = 8802
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
}

// DefaultDataDir returns $HOME/.paf, overridable by the PAF_DATA_DIR
// environment variable per the spec's "may be overridden by environment".
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("PAF_DATA_DIR"); ok && dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".paf"
	}
	return filepath.Join(home, ".paf")
}

// LoadSystemConfig reads the system config file at path, applying defaults
// for any zero-value field. If the file does not exist, a default config is
// written and returned — fatal I/O errors are the caller's responsibility to
// surface as a non-zero exit per the spec.
func LoadSystemConfig(path string) (SystemConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return SystemConfig{}, fmt.Errorf("%w: reading %s: %v", ErrConfigInvalid, path, err)
		}
		var cfg SystemConfig
		cfg.defaults()
		if err := SaveSystemConfig(path, cfg); err != nil {
			return SystemConfig{}, err
		}
		return cfg, nil
	}

	var cfg SystemConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return SystemConfig{}, fmt.Errorf("%w: parsing %s: %v", ErrConfigInvalid, path, err)
	}
	cfg.defaults()
	return cfg, nil
}

// SaveSystemConfig atomically writes cfg to path.
func SaveSystemConfig(path string, cfg SystemConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating dir for %s: %v", ErrPersist, path, err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: marshalling system config: %v", ErrPersist, err)
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}
