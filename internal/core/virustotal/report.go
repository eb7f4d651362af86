package virustotal

import "github.com/pkgsentry/pkgsentry/internal/core"

// minCleanEngines is the number of engines that must report a file as
// harmless or undetected before it counts as clean.
const minCleanEngines = 50

// FileReport is the subset of the files/{id} response used for verdicts.
type FileReport struct {
	Data FileData `json:"data"`
}

type FileData struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes FileAttributes `json:"attributes"`
	Links      struct {
		Self string `json:"self"`
	} `json:"links"`
}

type FileAttributes struct {
	SHA256              string                    `json:"sha256"`
	MD5                 string                    `json:"md5,omitempty"`
	SHA1                string                    `json:"sha1,omitempty"`
	Size                int64                     `json:"size"`
	Names               []string                  `json:"names,omitempty"`
	MeaningfulName      string                    `json:"meaningful_name,omitempty"`
	TypeDescription     string                    `json:"type_description,omitempty"`
	Reputation          int                       `json:"reputation"`
	TimesSubmitted      int                       `json:"times_submitted"`
	LastAnalysisDate    int64                     `json:"last_analysis_date"`
	LastAnalysisStats   AnalysisStats             `json:"last_analysis_stats"`
	LastAnalysisResults map[string]AnalysisResult `json:"last_analysis_results,omitempty"`
}

// AnalysisStats counts engine verdicts by category.
type AnalysisStats struct {
	Harmless         int `json:"harmless"`
	TypeUnsupported  int `json:"type-unsupported"`
	Suspicious       int `json:"suspicious"`
	ConfirmedTimeout int `json:"confirmed-timeout"`
	Timeout          int `json:"timeout"`
	Failure          int `json:"failure"`
	Malicious        int `json:"malicious"`
	Undetected       int `json:"undetected"`
}

type AnalysisResult struct {
	Category      string `json:"category"`
	EngineName    string `json:"engine_name"`
	EngineVersion string `json:"engine_version,omitempty"`
	Result        any    `json:"result"`
	Method        string `json:"method,omitempty"`
}

// IsOK reports whether more than 50 engines found the file harmless or
// undetected and none found it malicious or suspicious.
func (r *FileReport) IsOK() bool {
	if r == nil {
		return false
	}
	stats := r.Data.Attributes.LastAnalysisStats
	return stats.Undetected+stats.Harmless > minCleanEngines &&
		stats.Malicious == 0 &&
		stats.Suspicious == 0
}

// Positives is the number of engines flagging the file.
func (r *FileReport) Positives() int {
	if r == nil {
		return 0
	}
	stats := r.Data.Attributes.LastAnalysisStats
	return stats.Malicious + stats.Suspicious
}

// Verdict maps the report onto a scan verdict.
func (r *FileReport) Verdict() core.Verdict {
	switch {
	case r == nil:
		return core.VerdictPending
	case r.IsOK():
		return core.VerdictOK
	default:
		return core.VerdictFlagged
	}
}
