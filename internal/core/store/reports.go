package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// ReportFilter narrows ListScanReports.
type ReportFilter struct {
	Verdict core.Verdict
	Limit   int
}

// SaveScanReport stores the outcome of a scan keyed by file hash.
// A pending outcome never replaces a completed report for the same hash.
func (s *Store) SaveScanReport(ctx context.Context, outcome core.ScanOutcome) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sha := normalizeHash(outcome.SHA256)
	if sha == "" {
		return errors.New("scan report hash is required")
	}
	if outcome.Verdict == "" {
		return errors.New("scan report verdict is required")
	}

	scannedAt := outcome.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now()
	}

	var report sql.NullString
	if len(outcome.Report) > 0 {
		report = sql.NullString{String: string(outcome.Report), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scan_reports (sha256, scan_id, file_name, verdict, positives, analysis_id, report_json, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha256) DO UPDATE SET
			scan_id = excluded.scan_id,
			file_name = excluded.file_name,
			verdict = excluded.verdict,
			positives = excluded.positives,
			analysis_id = excluded.analysis_id,
			report_json = excluded.report_json,
			scanned_at = excluded.scanned_at
		WHERE excluded.verdict <> ? OR scan_reports.verdict = ?
	`, sha, outcome.ScanID, outcome.FileName, string(outcome.Verdict), outcome.Positives,
		outcome.AnalysisID, report, scannedAt.UTC().Unix(),
		string(core.VerdictPending), string(core.VerdictPending))
	if err != nil {
		return fmt.Errorf("store scan report: %w", err)
	}
	return nil
}

// GetScanReport returns the stored report for a hash, or nil when none exists.
func (s *Store) GetScanReport(ctx context.Context, sha256 string) (*core.ScanRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sha := normalizeHash(sha256)
	if sha == "" {
		return nil, errors.New("scan report hash is required")
	}

	row := s.DB.QueryRowContext(ctx, selectReports+` WHERE sha256 = ?`, sha)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch scan report: %w", err)
	}
	return record, nil
}

// ListScanReports returns stored reports, newest first.
func (s *Store) ListScanReports(ctx context.Context, filter ReportFilter) ([]core.ScanRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := selectReports
	var args []any
	if verdict := strings.TrimSpace(string(filter.Verdict)); verdict != "" {
		query += ` WHERE verdict = ?`
		args = append(args, strings.ToLower(verdict))
	}
	query += ` ORDER BY scanned_at DESC, file_name ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan reports: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var records []core.ScanRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan reports: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scan reports: %w", err)
	}
	return records, nil
}

const selectReports = `
	SELECT sha256, scan_id, file_name, verdict, positives, analysis_id, report_json, scanned_at
	FROM scan_reports`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.ScanRecord, error) {
	var (
		record     core.ScanRecord
		verdict    string
		analysisID sql.NullString
		report     sql.NullString
		scannedAt  int64
	)
	if err := row.Scan(&record.SHA256, &record.ScanID, &record.FileName, &verdict,
		&record.Positives, &analysisID, &report, &scannedAt); err != nil {
		return nil, err
	}
	record.Verdict = core.Verdict(verdict)
	record.AnalysisID = analysisID.String
	record.Report = report.String
	record.ScannedAt = time.Unix(scannedAt, 0).UTC()
	return &record, nil
}

func normalizeHash(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
