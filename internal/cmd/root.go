package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/observability"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Build NuGet package lists, download packages and scan them with VirusTotal",
	Long: `pkgsentry builds curated lists of NuGet packages, downloads the archives
under a request rate cap and scans them with VirusTotal across a pool of API keys.

Use the subcommands to perform specific operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return startMetrics()
	},
}

// Execute runs the root command under a context cancelled by SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = errwrap.WithCorrelationID(ctx)
	defer func() {
		if err := observability.StopMetrics(); err != nil && observability.CLILogger != nil {
			observability.CLILogger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Disable global telemetry until the metrics exporter is requested.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/pkgsentry/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "hide progress bars")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("metrics", false, "expose Prometheus metrics while the command runs")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("metrics.enabled", rootCmd.PersistentFlags().Lookup("metrics"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	v := viper.GetViper()
	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		} else {
			observability.CLILogger.Debug("Could not resolve XDG config directory")
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	} else if cfgFile != "" {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file",
			errwrap.WrapConfigInvalid(context.Background(), err, "failed to read config file"))
	} else {
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}
}

// loadConfig decodes the merged configuration and applies its logging profile.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Profile)) {
	case "structured":
		observability.InitStructuredLogger(config.AppName, level)
	default:
		observability.InitSimpleLogger(config.AppName, level)
	}
	return cfg, nil
}

func startMetrics() error {
	if !viper.GetBool("metrics.enabled") || observability.TelemetrySystem != nil {
		return nil
	}

	port := viper.GetInt("metrics.port")
	if err := observability.InitMetrics(config.AppName, port); err != nil {
		observability.CLILogger.Warn("Metrics exporter unavailable", zap.Int("port", port), zap.Error(err))
		return nil
	}
	telemetry.SetGlobalSystem(observability.TelemetrySystem)
	observability.CLILogger.Info("Metrics exporter listening", zap.Int("port", observability.GetMetricsPort()))
	return nil
}

// showProgress reports whether progress bars should be drawn on stderr.
func showProgress() bool {
	if quiet {
		return false
	}
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
