package output

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatScanSummary renders a scan summary as a table.
func (f *TableFormatter) FormatScanSummary(summary *ScanSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"File", "SHA256", "Status", "Notes"})

	for _, row := range summary.Rows {
		t.AppendRow(table.Row{
			row.Outcome.FileName,
			shortHash(row.Outcome.SHA256),
			colorStatus(row.Status()),
			rowNotes(row),
		})
	}

	t.AppendFooter(table.Row{"", "", "", summaryLine(summary)})
	return t.Render(), nil
}

// FormatReports renders stored reports as a table.
func (f *TableFormatter) FormatReports(records []core.ScanRecord) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"File", "SHA256", "Verdict", "Positives", "Scanned"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Positives", Align: text.AlignRight},
	})

	for _, record := range records {
		t.AppendRow(table.Row{
			record.FileName,
			shortHash(record.SHA256),
			colorStatus(string(record.Verdict)),
			strconv.Itoa(record.Positives),
			formatTime(record.ScannedAt),
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", strconv.Itoa(len(records)) + " report(s)"})
	return t.Render(), nil
}

func colorStatus(status string) string {
	switch status {
	case string(core.VerdictOK):
		return text.FgGreen.Sprint(status)
	case string(core.VerdictFlagged), "error":
		return text.FgRed.Sprint(status)
	case string(core.VerdictPending), "skipped":
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}
