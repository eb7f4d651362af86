package cmd

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	"github.com/pkgsentry/pkgsentry/internal/core/nuget"
	"github.com/pkgsentry/pkgsentry/internal/core/store"
	"github.com/pkgsentry/pkgsentry/internal/core/virustotal"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/metrics"
	"github.com/pkgsentry/pkgsentry/internal/observability"
)

const virusTotalService = "virustotal"

func newNuGetClient(cfg *config.Config) *nuget.Client {
	skip := cfg.NuGet.SkipPatterns
	if len(skip) == 0 {
		skip = nuget.DefaultSkipPatterns
	}
	return &nuget.Client{
		HTTP:             &http.Client{Timeout: cfg.NuGet.Timeout},
		SearchURL:        cfg.NuGet.SearchURL,
		RegistrationURL:  cfg.NuGet.RegistrationURL,
		FlatContainerURL: cfg.NuGet.FlatContainerURL,
		PageSize:         cfg.NuGet.PageSize,
		Frameworks:       cfg.NuGet.Frameworks,
		SkipPatterns:     skip,
		ToolVersion:      versionInfo.Version,
	}
}

func nugetPipeline(cfg *config.Config) *engine.Pipeline {
	return engine.NewPipeline(engine.PipelineConfig{
		TicksPerSecond: cfg.NuGet.TicksPerSecond,
		MaxConcurrent:  cfg.NuGet.MaxConcurrent,
	})
}

// newVirusTotalClient builds a client whose requests rotate across keys.
// Keys passed explicitly replace the configured ones.
func newVirusTotalClient(ctx context.Context, cfg *config.Config, keys []string) (*virustotal.Client, error) {
	vt := cfg.VirusTotal
	if len(keys) > 0 {
		vt.APIKeys = keys
	}
	credentials := vt.Credentials()
	if len(credentials) == 0 {
		return nil, errwrap.WrapConfigInvalid(ctx, engine.ErrNoCredentials,
			"VirusTotal API key is required (use -k or virustotal.api_keys)")
	}

	limiter := engine.NewKeyRotationLimiter(credentials, engine.RotationConfig{
		Budget: engine.BudgetConfig{
			MaxPerWindow: vt.RequestsPerMinute,
			MaxPerDay:    vt.RequestsPerDay,
			Window:       time.Minute,
			Tolerance:    vt.WindowTolerance,
		},
		Cooldown: vt.Cooldown,
		Backoff:  vt.Backoff,
	})
	limiter.OnCooldown = func(credential string, until time.Time, cause error) {
		metrics.RecordThrottle(virusTotalService)
		metrics.RecordCooldown(virusTotalService, credential)
		observability.CLILogger.Warn("API key throttled, cooling down",
			zap.String("key", credential),
			zap.Time("until", until),
			zap.Error(cause))
	}

	return &virustotal.Client{
		HTTP:        &http.Client{Timeout: vt.Timeout},
		BaseURL:     vt.BaseURL,
		Limiter:     limiter,
		ToolVersion: versionInfo.Version,
	}, nil
}

// logLimiterStats logs one line per API key with its budget usage and any
// active cooldown, and returns the snapshot it logged.
func logLimiterStats(limiter *engine.KeyRotationLimiter) []engine.CredentialStats {
	stats := limiter.Stats()
	for _, stat := range stats {
		observability.CLILogger.Info("API key usage", credentialFields(stat)...)
	}
	return stats
}

func credentialFields(stat engine.CredentialStats) []zap.Field {
	fields := []zap.Field{
		zap.String("key", stat.Credential),
		zap.Int("in_flight", stat.Usage.InFlight),
		zap.Int("window_weight", stat.Usage.WindowWeight),
		zap.Int("daily_weight", stat.Usage.DailyWeight),
	}
	if stat.CooldownUntil != nil {
		fields = append(fields, zap.Time("cooldown_until", *stat.CooldownUntil))
	}
	return fields
}

func scanPipeline(cfg *config.Config) *engine.Pipeline {
	return engine.NewPipeline(engine.PipelineConfig{
		TicksPerSecond: cfg.VirusTotal.TicksPerSecond,
		MaxConcurrent:  cfg.VirusTotal.MaxConcurrent,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.OpenMigrated(ctx, cfg.Store)
	if err != nil {
		return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open report store")
	}
	return db, nil
}
