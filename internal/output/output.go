package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// Format represents an output format for scan summaries and stored reports.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders scan summaries and stored reports.
type Formatter interface {
	FormatScanSummary(summary *ScanSummary) (string, error)
	FormatReports(records []core.ScanRecord) (string, error)
}

// ScanRow is the outcome of scanning one file.
type ScanRow struct {
	Outcome  core.ScanOutcome `json:"outcome"`
	Skipped  string           `json:"skipped,omitempty"`
	Error    string           `json:"error,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
}

// Status is the one-word state shown for the row.
func (r ScanRow) Status() string {
	switch {
	case r.Error != "":
		return "error"
	case r.Skipped != "":
		return "skipped"
	case r.Outcome.Verdict != "":
		return string(r.Outcome.Verdict)
	default:
		return "unknown"
	}
}

// ScanSummary aggregates a scan run.
type ScanSummary struct {
	Directory string        `json:"directory"`
	Rows      []ScanRow     `json:"rows"`
	Duration  time.Duration `json:"duration"`
}

// Add appends a row.
func (s *ScanSummary) Add(row ScanRow) {
	s.Rows = append(s.Rows, row)
}

// Counts returns the number of rows per status.
func (s *ScanSummary) Counts() map[string]int {
	counts := make(map[string]int)
	if s == nil {
		return counts
	}
	for _, row := range s.Rows {
		counts[row.Status()]++
	}
	return counts
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func summaryLine(summary *ScanSummary) string {
	counts := summary.Counts()
	parts := []string{fmt.Sprintf("%d file(s)", len(summary.Rows))}
	for _, status := range []string{"ok", "flagged", "pending", "skipped", "error"} {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
		}
	}
	return strings.Join(parts, ", ")
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

func rowNotes(row ScanRow) string {
	switch {
	case row.Error != "":
		return row.Error
	case row.Skipped != "":
		return row.Skipped
	case row.Outcome.Uploaded:
		return "uploaded, analysis " + row.Outcome.AnalysisID
	case row.Outcome.Positives > 0:
		return fmt.Sprintf("%d engine(s) flagged", row.Outcome.Positives)
	}
	return ""
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func marshal(value any, indent bool) (string, error) {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
