package output

import (
	"fmt"
	"strings"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatScanSummary renders a scan summary as Markdown.
func (f *MarkdownFormatter) FormatScanSummary(summary *ScanSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Scan of %s\n\n", escapeMarkdownCell(summary.Directory)))
	sb.WriteString("| File | SHA256 | Status | Notes |\n")
	sb.WriteString("|------|--------|--------|-------|\n")

	for _, row := range summary.Rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(row.Outcome.FileName),
			shortHash(row.Outcome.SHA256),
			row.Status(),
			escapeMarkdownCell(rowNotes(row)),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", summaryLine(summary)))
	return sb.String(), nil
}

// FormatReports renders stored reports as Markdown.
func (f *MarkdownFormatter) FormatReports(records []core.ScanRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| File | SHA256 | Verdict | Positives | Scanned |\n")
	sb.WriteString("|------|--------|---------|-----------|---------|\n")
	for _, record := range records {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s |\n",
			escapeMarkdownCell(record.FileName),
			shortHash(record.SHA256),
			record.Verdict,
			record.Positives,
			formatTime(record.ScannedAt),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
