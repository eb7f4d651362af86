package virustotal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

const (
	// ArchiveExt is the extension of files picked up for scanning.
	ArchiveExt = ".nupkg"
	// ReportExt is the extension of the report written next to a scanned file.
	ReportExt = ".rpt"
)

// ScanResult is one element of a ScanFiles stream.
type ScanResult = engine.Result[string, core.ScanOutcome]

// ScanFile looks up the report for the file at path. Files VirusTotal has
// not seen are uploaded and come back pending. When a report exists it is
// written next to the file with the .rpt extension.
func (c *Client) ScanFile(ctx context.Context, path string) (core.ScanOutcome, error) {
	outcome := core.ScanOutcome{
		ScanID:   uuid.NewString(),
		FileName: filepath.Base(path),
		Path:     path,
	}

	digest, err := FileSHA256(path)
	if err != nil {
		return outcome, err
	}
	outcome.SHA256 = digest

	found, err := c.getFileReport(ctx, digest)
	if err != nil {
		return outcome, fmt.Errorf("report for %s: %w", outcome.FileName, err)
	}
	outcome.ScannedAt = time.Now().UTC()

	if found == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return outcome, err
		}
		analysisID, err := c.UploadFile(ctx, outcome.FileName, data)
		if err != nil {
			return outcome, fmt.Errorf("upload %s: %w", outcome.FileName, err)
		}
		outcome.Verdict = core.VerdictPending
		outcome.Uploaded = true
		outcome.AnalysisID = analysisID
		return outcome, nil
	}

	outcome.Verdict = found.report.Verdict()
	outcome.Positives = found.report.Positives()
	outcome.Report = found.raw

	if err := os.WriteFile(ReportPath(path), found.raw, 0o644); err != nil {
		return outcome, fmt.Errorf("write report for %s: %w", outcome.FileName, err)
	}
	return outcome, nil
}

// ScanFiles scans every path through the pipeline.
// The stream starts with the count announcement.
func (c *Client) ScanFiles(ctx context.Context, p *engine.Pipeline, paths []string) iter.Seq[ScanResult] {
	return engine.Map(ctx, p, paths, c.ScanFile)
}

// FileSHA256 returns the lower-case hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() // nolint:errcheck // read-only handle

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ReportPath is the sidecar report path for a scanned file.
func ReportPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ReportExt
}

// PendingFiles lists the archives directly inside dir that have no sidecar
// report yet, sorted by name. Subdirectories are not searched.
func PendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	reported := make(map[string]struct{})
	var archives []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch strings.ToLower(filepath.Ext(name)) {
		case ReportExt:
			reported[stem] = struct{}{}
		case ArchiveExt:
			archives = append(archives, name)
		}
	}

	pending := make([]string, 0, len(archives))
	for _, name := range archives {
		if _, ok := reported[strings.TrimSuffix(name, filepath.Ext(name))]; ok {
			continue
		}
		pending = append(pending, filepath.Join(dir, name))
	}
	sort.Strings(pending)
	return pending, nil
}
