package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	"github.com/pkgsentry/pkgsentry/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, budget and version information. API keys are masked.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()
		log := observability.CLILogger

		log.Info("=== pkgsentry Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + displayVersion())
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			log.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		log.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("")

		log.Info("NuGet:")
		log.Info("  Search URL:     " + cfg.NuGet.SearchURL)
		log.Info("  Registration:   " + cfg.NuGet.RegistrationURL)
		log.Info("  Flat Container: " + cfg.NuGet.FlatContainerURL)
		log.Info(fmt.Sprintf("  Pace:           %d req/s, %d concurrent", cfg.NuGet.TicksPerSecond, cfg.NuGet.MaxConcurrent))
		log.Info(fmt.Sprintf("  Search Terms:   %d configured", len(cfg.NuGet.SearchTerms)))
		log.Info("")

		log.Info("VirusTotal:")
		log.Info("  Base URL:       " + cfg.VirusTotal.BaseURL)
		log.Info(fmt.Sprintf("  Budget:         %d/min, %d/day per key", cfg.VirusTotal.RequestsPerMinute, cfg.VirusTotal.RequestsPerDay))
		log.Info("  Cooldown:       " + cfg.VirusTotal.Cooldown.String())
		keys := cfg.VirusTotal.Credentials()
		if len(keys) == 0 {
			log.Info("  API Keys:       (not set)")
		}
		for i, key := range keys {
			log.Info(fmt.Sprintf("  API Key %d:      %s", i+1, engine.MaskCredential(key)))
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
