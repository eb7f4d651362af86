package metrics

import (
	"time"

	"github.com/pkgsentry/pkgsentry/internal/observability"
)

// Pipeline and client metrics following Prometheus conventions
const (
	ItemsTotal         = "pipeline_items_total"
	ItemAttemptsTotal  = "pipeline_item_attempts_total"
	BatchDuration      = "pipeline_batch_duration_ms"
	BatchSize          = "pipeline_batch_size"
	ThrottlesTotal     = "remote_throttles_total"
	CredentialCooldown = "credential_cooldowns_total"
	ScanVerdictsTotal  = "scan_verdicts_total"
)

// RecordItem records the terminal outcome of one pipeline item.
func RecordItem(batch string, success bool, attempts int) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ItemsTotal,
			1,
			map[string]string{
				"batch":  batch,
				"status": status,
			},
		)
		if attempts > 0 {
			_ = observability.TelemetrySystem.Counter(
				ItemAttemptsTotal,
				float64(attempts),
				map[string]string{
					"batch": batch,
				},
			)
		}
	}
}

// RecordBatch records the size and wall time of a finished batch.
func RecordBatch(batch string, size int, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			BatchSize,
			float64(size),
			map[string]string{
				"batch": batch,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			BatchDuration,
			duration,
			map[string]string{
				"batch": batch,
			},
		)
	}
}

// RecordThrottle records an explicit rate limit response from a remote service.
func RecordThrottle(service string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ThrottlesTotal,
			1,
			map[string]string{
				"service": service,
			},
		)
	}
}

// RecordCooldown records a credential being parked.
func RecordCooldown(service string, credential string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialCooldown,
			1,
			map[string]string{
				"service":    service,
				"credential": credential,
			},
		)
	}
}

// RecordScanVerdict counts scan outcomes by verdict.
func RecordScanVerdict(verdict string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ScanVerdictsTotal,
			1,
			map[string]string{
				"verdict": verdict,
			},
		)
	}
}
