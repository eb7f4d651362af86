package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check: configuration, report store and VirusTotal credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		// Check 1: Logger initialized
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("Running health check...")
		observability.CLILogger.Debug("Version", zap.String("version", displayVersion()))

		// Check 2: Configuration valid
		cfg, err := loadConfig(ctx)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		observability.CLILogger.Info("✅ Configuration valid")

		// Check 3: Report store reachable and migrated
		db, err := openStore(ctx, cfg)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Report store unavailable")
			ExitWithCode(observability.CLILogger, errwrap.ExitCode(err), "Report store unavailable", err)
			return
		}
		_ = db.Close()
		observability.CLILogger.Info("✅ Report store ready", zap.String("driver", db.Driver()))

		// Check 4: Credentials, needed only by scan
		if keys := len(cfg.VirusTotal.Credentials()); keys > 0 {
			observability.CLILogger.Info(fmt.Sprintf("✅ %d VirusTotal API key(s) configured", keys))
		} else {
			observability.CLILogger.Warn("⚠️  No VirusTotal API keys configured (scan needs -k or virustotal.api_keys)")
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
