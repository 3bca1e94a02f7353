package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultListen           = "127.0.0.1:8920"
	defaultDiscoveryTimeout = 30 // seconds
	defaultSearchLimit      = 20
)

// Config is the daemon configuration. Tool servers themselves live in the
// registry database, not here; config carries only how the daemon runs.
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// BaseURL is the externally reachable base of the HTTP API, used to
	// build auth callback URLs. Empty means derive it from Listen.
	BaseURL string `json:"base_url,omitempty" mapstructure:"base-url"`

	// APIKey guards mutating API endpoints when set. Empty disables the check.
	APIKey string `json:"api_key,omitempty" mapstructure:"api-key"`

	// DiscoveryTimeout bounds one remote tool query, in seconds.
	DiscoveryTimeout int `json:"discovery_timeout,omitempty" mapstructure:"discovery-timeout"`

	// SearchLimit is the default result count for tool search.
	SearchLimit int `json:"search_limit,omitempty" mapstructure:"search-limit"`

	// SeedFile names an optional JSON file of servers that must exist;
	// watched and synced into the registry while the daemon runs.
	SeedFile string `json:"seed_file,omitempty" mapstructure:"seed-file"`

	// EnableSearch controls the bleve tool index.
	EnableSearch bool `json:"enable_search" mapstructure:"enable-search"`

	Logging       *LogConfig           `json:"logging,omitempty" mapstructure:"logging"`
	Observability *ObservabilityConfig `json:"observability,omitempty" mapstructure:"observability"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level           string `json:"level" mapstructure:"level"`
	EnableFile      bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole   bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename        string `json:"filename" mapstructure:"filename"`
	LogDir          string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize         int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups      int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge          int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress        bool   `json:"compress" mapstructure:"compress"`
	JSONFormat      bool   `json:"json_format" mapstructure:"json-format"`
	SanitizeSecrets bool   `json:"sanitize_secrets" mapstructure:"sanitize-secrets"`
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool    `json:"metrics_enabled" mapstructure:"metrics-enabled"`
	TracingEnabled bool    `json:"tracing_enabled" mapstructure:"tracing-enabled"`
	OTLPEndpoint   string  `json:"otlp_endpoint,omitempty" mapstructure:"otlp-endpoint"`
	SampleRate     float64 `json:"sample_rate,omitempty" mapstructure:"sample-rate"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:           defaultListen,
		DataDir:          "", // Will be set to ~/.mcpdock by the loader
		DiscoveryTimeout: defaultDiscoveryTimeout,
		SearchLimit:      defaultSearchLimit,
		EnableSearch:     true,

		Logging: &LogConfig{
			Level:           "info",
			EnableFile:      true,
			EnableConsole:   true,
			Filename:        "main.log",
			MaxSize:         10, // 10MB
			MaxBackups:      5,  // 5 backup files
			MaxAge:          30, // 30 days
			Compress:        true,
			JSONFormat:      false, // Use console format for readability
			SanitizeSecrets: true,
		},

		Observability: &ObservabilityConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1,
		},
	}
}

// Validate normalizes the configuration and rejects values that cannot work.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = defaultSearchLimit
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL: %q", c.BaseURL)
		}
	}
	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	if c.Observability == nil {
		c.Observability = DefaultConfig().Observability
	}
	return nil
}

// DiscoveryTimeoutDuration returns the remote query timeout as a duration.
func (c *Config) DiscoveryTimeoutDuration() time.Duration {
	return time.Duration(c.DiscoveryTimeout) * time.Second
}

// CallbackBaseURL returns the absolute URL of the auth callback endpoint,
// derived from BaseURL when set and from the listen address otherwise.
func (c *Config) CallbackBaseURL() string {
	base := c.BaseURL
	if base == "" {
		host := c.Listen
		if strings.HasPrefix(host, ":") {
			host = "127.0.0.1" + host
		}
		base = "http://" + host
	}
	return strings.TrimRight(base, "/") + "/api/v1/auth/callback"
}
