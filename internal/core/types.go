package core

import (
	"strings"
	"time"
)

// Package identifies one version of a NuGet package.
type Package struct {
	ID           string   `json:"id" yaml:"id"`
	Version      string   `json:"version" yaml:"version"`
	License      string   `json:"license,omitempty" yaml:"license,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// IDWithVersion is the "{id}.{version}" stem used for archive file names.
func (p Package) IDWithVersion() string {
	return p.ID + "." + p.Version
}

// FileName is the archive name in the flat container, lower-cased as the registry serves it.
func (p Package) FileName() string {
	return strings.ToLower(p.IDWithVersion()) + ".nupkg"
}

// SearchHit is one package returned by a registry search.
type SearchHit struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Listed      bool   `json:"listed"`
	Deprecated  bool   `json:"deprecated"`
}

// PackageResult is the metadata outcome for one search hit.
// Deprecated or unlisted packages have no versions.
type PackageResult struct {
	ID       string    `json:"id"`
	Versions []Package `json:"versions,omitempty"`
}

// DownloadResult describes one downloaded archive.
type DownloadResult struct {
	Package Package `json:"package"`
	Path    string  `json:"path"`
	Bytes   int64   `json:"bytes"`
}

// Verdict summarizes a scan report.
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictFlagged Verdict = "flagged"
	VerdictPending Verdict = "pending"
)

// ScanOutcome is the result of scanning one file.
type ScanOutcome struct {
	ScanID     string    `json:"scan_id"`
	FileName   string    `json:"file_name"`
	Path       string    `json:"path"`
	SHA256     string    `json:"sha256"`
	Verdict    Verdict   `json:"verdict"`
	Positives  int       `json:"positives"`
	Uploaded   bool      `json:"uploaded"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	Report     []byte    `json:"-"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Final reports whether the verdict comes from a completed analysis.
func (v Verdict) Final() bool {
	return v == VerdictOK || v == VerdictFlagged
}

// ScanRecord is a stored scan report.
type ScanRecord struct {
	SHA256     string    `json:"sha256"`
	ScanID     string    `json:"scan_id"`
	FileName   string    `json:"file_name"`
	Verdict    Verdict   `json:"verdict"`
	Positives  int       `json:"positives"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	Report     string    `json:"report,omitempty"`
	ScannedAt  time.Time `json:"scanned_at"`
}
