package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("pkgsentry-test", false)

		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}

		observability.CLILogger.Info("Test CLI log message",
			zap.String("test", "value"))
	})

	t.Run("Simple logger at warn level", func(t *testing.T) {
		observability.InitCLILogger("pkgsentry-test", false)
		before := observability.CLILogger

		observability.InitSimpleLogger("pkgsentry-test", "warn")
		if observability.CLILogger == nil || observability.CLILogger == before {
			t.Fatal("simple logger should replace the CLI logger for non-info levels")
		}

		observability.InitSimpleLogger("pkgsentry-test", "info")
		observability.CLILogger.Warn("still logging", zap.Int("items", 3))
	})

	t.Run("Structured logger creation", func(t *testing.T) {
		observability.InitStructuredLogger("pkgsentry-test", "debug", "pkgsentry")

		if observability.CLILogger == nil {
			t.Fatal("structured logger should not be nil after initialization")
		}

		observability.CLILogger.Info("Test structured log message",
			zap.String("component", "test"),
			zap.Int("items", 12))
	})
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()

	if version.Gofulmen == "" {
		t.Error("Gofulmen version should not be empty")
	}
	if version.Crucible == "" {
		t.Error("Crucible version should not be empty")
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	if observability.TelemetrySystem != nil {
		t.Skip("telemetry already initialised by another test")
	}
	if observability.GetMetricsPort() != 0 {
		t.Errorf("metrics port should be zero before InitMetrics, got %d", observability.GetMetricsPort())
	}
}
