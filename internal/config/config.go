// ABOUTME: Configuration loading and parsing for guardian
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete guardian configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RTC       RTCConfig       `yaml:"rtc"`
	RateLimit RateLimitConfig `yaml:"rate_limits"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RTCConfig holds call token signing configuration
type RTCConfig struct {
	TokenSecret string `yaml:"token_secret"`
}

// RateLimitConfig allows overriding the built-in rate limit policies.
// Actions absent from the map keep their defaults.
type RateLimitConfig struct {
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig is one rate limit policy override
type PolicyConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	WindowRaw string `yaml:"window"`
}

// JanitorConfig holds cleanup scheduling configuration
type JanitorConfig struct {
	Interval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	for action, p := range c.RateLimit.Policies {
		if p.Max < 1 {
			return fmt.Errorf("rate_limits.policies.%s.max must be at least 1", action)
		}
		if p.WindowRaw == "" {
			return fmt.Errorf("rate_limits.policies.%s.window is required", action)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Janitor.IntervalRaw != "" {
		cfg.Janitor.Interval, err = time.ParseDuration(cfg.Janitor.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing janitor interval %q: %w", cfg.Janitor.IntervalRaw, err)
		}
	}
	if cfg.Janitor.Interval == 0 {
		cfg.Janitor.Interval = time.Hour
	}

	for action, p := range cfg.RateLimit.Policies {
		if p.WindowRaw == "" {
			continue
		}
		p.Window, err = time.ParseDuration(p.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate limit window for %s %q: %w", action, p.WindowRaw, err)
		}
		cfg.RateLimit.Policies[action] = p
	}

	return nil
}
