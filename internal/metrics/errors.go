package metrics

import (
	"strconv"

	"github.com/pkgsentry/pkgsentry/internal/observability"
)

// Metric names
const (
	ErrorsTotalName   = "errors_total"
	PanicsTotalName   = "panics_total"
	ErrorsByStageName = "errors_by_stage"
)

// RecordError records an error with code and exit status
func RecordError(errorCode string, exitCode int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsTotalName,
			1,
			map[string]string{
				"error_code": errorCode,
				"exit_code":  strconv.Itoa(exitCode),
			},
		)
	}
}

// RecordPanic records a recovered unit panic
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PanicsTotalName,
			1,
			nil,
		)
	}
}

// RecordErrorByStage records an item failure by pipeline stage
func RecordErrorByStage(stage string, errorCode string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsByStageName,
			1,
			map[string]string{
				"stage":      stage,
				"error_code": errorCode,
			},
		)
	}
}
