// Package config provides centralized configuration management for pkgsentry.
// Layers are resolved by viper: defaults, the YAML config file discovered in
// the XDG config directory, PKGSENTRY_* environment variables, then flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "pkgsentry"
	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "PKGSENTRY"
)

const (
	DefaultNuGetSearchURL        = "https://azuresearch-usnc.nuget.org/query"
	DefaultNuGetRegistrationURL  = "https://api.nuget.org/v3/registration5-semver1/"
	DefaultNuGetFlatContainerURL = "https://api.nuget.org/v3-flatcontainer/"
	DefaultVirusTotalURL         = "https://www.virustotal.com/api/v3/"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "simple")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("nuget.search_url", DefaultNuGetSearchURL)
	v.SetDefault("nuget.registration_url", DefaultNuGetRegistrationURL)
	v.SetDefault("nuget.flat_container_url", DefaultNuGetFlatContainerURL)
	v.SetDefault("nuget.page_size", 1000)
	v.SetDefault("nuget.timeout", "60s")
	v.SetDefault("nuget.ticks_per_second", 15)
	v.SetDefault("nuget.max_concurrent", 10)
	v.SetDefault("nuget.frameworks", []string{"net6.0", "net7.0", "net8.0"})
	v.SetDefault("nuget.skip_patterns", []string{})
	v.SetDefault("nuget.search_terms", []string{})

	v.SetDefault("virustotal.base_url", DefaultVirusTotalURL)
	v.SetDefault("virustotal.api_keys", []string{})
	v.SetDefault("virustotal.requests_per_minute", 4)
	v.SetDefault("virustotal.requests_per_day", 500)
	v.SetDefault("virustotal.window_tolerance", "5s")
	v.SetDefault("virustotal.cooldown", "10m")
	v.SetDefault("virustotal.backoff", "10ms")
	v.SetDefault("virustotal.ticks_per_second", 4)
	v.SetDefault("virustotal.max_concurrent", 4)
	v.SetDefault("virustotal.timeout", "120s")
}

// BindEnv enables PKGSENTRY_* overrides on v. Nested keys use underscores,
// so virustotal.api_keys reads PKGSENTRY_VIRUSTOTAL_API_KEYS.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v into a validated Config and makes it
// the current configuration.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings(v)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	setConfig(cfg)
	return cfg, nil
}

// settings resolves every known key through v so environment overrides that
// are not present in the config file are still seen.
func settings(v *viper.Viper) map[string]any {
	out := map[string]any{}
	for _, key := range v.AllKeys() {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v.Get(key)
	}
	return out
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// UserConfigPaths returns the config file candidates in precedence order.
func UserConfigPaths() []string {
	return gfconfig.GetAppConfigPaths(AppName)
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
