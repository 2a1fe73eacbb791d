// Package config provides configuration management for the kvmd session manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
	Session SessionConfig  `yaml:"session"`
	TOTP    TOTPConfig     `yaml:"totp"`
	Logging LoggingConfig  `yaml:"logging"`
	Audit   AuditConfig    `yaml:"audit"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// DeviceConfig describes one managed kvmd endpoint
type DeviceConfig struct {
	Hostname  string `yaml:"hostname"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"` //#nosec G117 -- Password field is intentional for device auth config
	Secret    string `yaml:"secret"`   //#nosec G117 -- TOTP shared secret is intentional
	Scheme    string `yaml:"scheme"`   // "https" or "http"
	VerifyTLS bool   `yaml:"verify_tls"`
}

// SessionConfig contains connection pool settings
type SessionConfig struct {
	MaxIdle        time.Duration `yaml:"max_idle"`
	RetryBudget    int           `yaml:"retry_budget"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TOTPConfig contains second-factor code cache settings
type TOTPConfig struct {
	Cache string      `yaml:"cache"` // "memory" or "redis"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the shared code cache
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // "stdout" or "stderr"
}

// AuditConfig contains audit trail settings
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // "minimal", "standard" or "verbose"
}

// MetricsConfig contains management server settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MaxIdle:        5 * time.Minute,
			RetryBudget:    1,
			RequestTimeout: 30 * time.Second,
		},
		TOTP: TOTPConfig{
			Cache: "memory",
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
		Audit: AuditConfig{
			Enabled: true,
			Level:   "standard",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load loads the configuration from file or environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Check for config file path in environment or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Sanitize and validate path to prevent path traversal
	configPath = sanitizeConfigPath(configPath)

	// Try to load config file
	data, err := os.ReadFile(configPath) //#nosec G304 -- config path is sanitized above
	if err != nil {
		if os.IsNotExist(err) {
			// No config file, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express
func (c *Config) Validate() error {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Hostname == "" {
			return fmt.Errorf("device %d: hostname is required", i)
		}
		if d.Username == "" {
			return fmt.Errorf("device %q: username is required", d.Hostname)
		}
		if d.Scheme == "" {
			d.Scheme = "https"
		}
		if d.Scheme != "https" && d.Scheme != "http" {
			return fmt.Errorf("device %q: scheme must be https or http, got %q", d.Hostname, d.Scheme)
		}
	}

	if c.TOTP.Cache != "memory" && c.TOTP.Cache != "redis" {
		return fmt.Errorf("totp.cache must be memory or redis, got %q", c.TOTP.Cache)
	}

	if c.Session.RetryBudget < 0 {
		return fmt.Errorf("session.retry_budget must not be negative")
	}

	return nil
}

// Device returns the configured device for a hostname, if any
func (c *Config) Device(hostname string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Hostname == hostname {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// sanitizeConfigPath cleans and validates a config file path
func sanitizeConfigPath(path string) string {
	// Clean the path to remove any . or .. components
	cleaned := filepath.Clean(path)

	// If path is absolute, use it as-is (operator explicitly set full path)
	// If relative, ensure it doesn't escape the current directory
	if !filepath.IsAbs(cleaned) {
		// Remove any leading ../ components for relative paths
		for len(cleaned) > 2 && cleaned[:3] == "../" {
			cleaned = cleaned[3:]
		}
		if cleaned == ".." {
			cleaned = "config.yaml"
		}
	}

	return cleaned
}
