package output

import (
	"github.com/pkgsentry/pkgsentry/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatScanSummary renders a scan summary as JSON.
func (f *JSONFormatter) FormatScanSummary(summary *ScanSummary) (string, error) {
	if summary == nil {
		return "", nil
	}
	return marshal(summary, f.Indent)
}

// FormatReports renders stored reports as a JSON array.
func (f *JSONFormatter) FormatReports(records []core.ScanRecord) (string, error) {
	if records == nil {
		records = []core.ScanRecord{}
	}
	return marshal(records, f.Indent)
}
