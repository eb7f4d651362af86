package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Values are layered: defaults, config file, PKGSENTRY_* environment
// variables, then command line flags.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Store      StoreConfig      `mapstructure:"store"`
	NuGet      NuGetConfig      `mapstructure:"nuget"`
	VirusTotal VirusTotalConfig `mapstructure:"virustotal"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logger shape
	// Valid values: simple (console), structured (JSON on stderr)
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// NuGetConfig configures the package registry client and its pipeline.
type NuGetConfig struct {
	SearchURL        string        `mapstructure:"search_url"`
	RegistrationURL  string        `mapstructure:"registration_url"`
	FlatContainerURL string        `mapstructure:"flat_container_url"`
	PageSize         int           `mapstructure:"page_size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	TicksPerSecond   int           `mapstructure:"ticks_per_second"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Frameworks       []string      `mapstructure:"frameworks"`
	SkipPatterns     []string      `mapstructure:"skip_patterns"`
	SearchTerms      []string      `mapstructure:"search_terms"`
}

// VirusTotalConfig configures the scanning client, its credentials and budgets.
type VirusTotalConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKeys           []string      `mapstructure:"api_keys"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RequestsPerDay    int           `mapstructure:"requests_per_day"`
	WindowTolerance   time.Duration `mapstructure:"window_tolerance"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	Backoff           time.Duration `mapstructure:"backoff"`
	TicksPerSecond    int           `mapstructure:"ticks_per_second"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Validate checks limits and endpoints. Credentials are checked by the
// commands that need them.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Profile)) {
	case "", "simple", "structured":
	default:
		return fmt.Errorf("logging.profile must be simple or structured, got %q", c.Logging.Profile)
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}

	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if driver != "" && driver != "libsql" {
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	endpoints := map[string]string{
		"nuget.search_url":         c.NuGet.SearchURL,
		"nuget.registration_url":   c.NuGet.RegistrationURL,
		"nuget.flat_container_url": c.NuGet.FlatContainerURL,
		"virustotal.base_url":      c.VirusTotal.BaseURL,
	}
	for key, raw := range endpoints {
		if err := validateURL(key, raw); err != nil {
			return err
		}
	}

	positive := map[string]int{
		"nuget.page_size":             c.NuGet.PageSize,
		"nuget.ticks_per_second":      c.NuGet.TicksPerSecond,
		"nuget.max_concurrent":        c.NuGet.MaxConcurrent,
		"virustotal.ticks_per_second": c.VirusTotal.TicksPerSecond,
		"virustotal.max_concurrent":   c.VirusTotal.MaxConcurrent,
	}
	for key, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", key, value)
		}
	}

	if c.VirusTotal.RequestsPerMinute < 0 {
		return fmt.Errorf("virustotal.requests_per_minute must not be negative")
	}
	if c.VirusTotal.RequestsPerDay < 0 {
		return fmt.Errorf("virustotal.requests_per_day must not be negative")
	}

	return nil
}

// Credentials returns the configured API keys with blanks removed.
func (c VirusTotalConfig) Credentials() []string {
	keys := make([]string, 0, len(c.APIKeys))
	for _, key := range c.APIKeys {
		key = strings.TrimSpace(key)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s is missing a host", key)
	}
	return nil
}
