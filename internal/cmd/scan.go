package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core/store"
	"github.com/pkgsentry/pkgsentry/internal/core/virustotal"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/metrics"
	"github.com/pkgsentry/pkgsentry/internal/observability"
	"github.com/pkgsentry/pkgsentry/internal/output"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan downloaded packages with VirusTotal",
	Long: `Look up the VirusTotal report of every archive in a directory.

Archives that already have a .rpt report next to them are skipped, as are
archives whose hash has a completed report in the store. Unknown archives
are uploaded and reported as pending; run scan again later to fetch the
verdict. Requests rotate across the API keys and a key that VirusTotal
throttles is parked for virustotal.cooldown.

Examples:
  pkgsentry scan -k $VT_KEY
  pkgsentry scan -d ./archives -k key1,key2 --output json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("dir", "d", defaultDownloadDir, "Directory holding downloaded archives")
	scanCmd.Flags().StringSliceP("keys", "k", nil, "VirusTotal API keys (comma-separated, overrides virustotal.api_keys)")
	scanCmd.Flags().String("output", "table", "Summary format: table, json, markdown")
	scanCmd.Flags().Bool("no-store", false, "Do not read or write the report store")
}

type scanOptions struct {
	Dir     string
	Keys    []string
	NoStore bool
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}
	keys, err := cmd.Flags().GetStringSlice("keys")
	if err != nil {
		return err
	}
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	noStore, err := cmd.Flags().GetBool("no-store")
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "invalid --output")
	}
	if strings.TrimSpace(dir) == "" {
		dir = defaultDownloadDir
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	summary, err := scanDirectory(ctx, cfg, scanOptions{Dir: dir, Keys: keys, NoStore: noStore})
	if summary != nil {
		rendered, formatErr := output.NewFormatter(format).FormatScanSummary(summary)
		if formatErr != nil {
			return formatErr
		}
		if _, writeErr := io.WriteString(cmd.OutOrStdout(), rendered); writeErr != nil {
			return writeErr
		}
	}
	return err
}

// scanDirectory scans the pending archives in opts.Dir. The summary is
// returned even when the run is interrupted.
func scanDirectory(ctx context.Context, cfg *config.Config, opts scanOptions) (*output.ScanSummary, error) {
	startedAt := time.Now()

	pending, err := virustotal.PendingFiles(opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errwrap.WrapNotFound(ctx, err, fmt.Sprintf("directory %s not found", opts.Dir))
		}
		return nil, errwrap.WrapInvalidInput(ctx, err, "failed to list archives")
	}

	client, err := newVirusTotalClient(ctx, cfg, opts.Keys)
	if err != nil {
		return nil, err
	}

	var db *store.Store
	if !opts.NoStore {
		if db, err = openStore(ctx, cfg); err != nil {
			return nil, err
		}
		defer db.Close() // nolint:errcheck // best-effort close on exit
	}

	summary := &output.ScanSummary{Directory: opts.Dir}
	paths := pending
	if db != nil {
		paths = skipStored(ctx, db, pending, summary)
	}

	observability.CLILogger.Info("Scanning archives",
		zap.String("dir", opts.Dir),
		zap.Int("pending", len(paths)),
		zap.Int("skipped", len(pending)-len(paths)),
		zap.Int("keys", client.Limiter.Len()))

	_, err = drain(ctx, "scan", "Scanning",
		client.ScanFiles(ctx, scanPipeline(cfg), paths),
		filepath.Base,
		func(result virustotal.ScanResult) {
			row := output.ScanRow{Outcome: result.Value, Attempts: result.Attempts}
			if row.Outcome.FileName == "" {
				row.Outcome.FileName = filepath.Base(result.Item.Payload)
			}
			if result.Failed() {
				row.Error = result.Err.Error()
				summary.Add(row)
				return
			}

			metrics.RecordScanVerdict(string(result.Value.Verdict))
			if result.Value.Positives > 0 {
				observability.CLILogger.Warn("Archive flagged",
					zap.String("file", result.Value.FileName),
					zap.String("sha256", result.Value.SHA256),
					zap.Int("positives", result.Value.Positives))
			}
			if db != nil {
				if saveErr := db.SaveScanReport(ctx, result.Value); saveErr != nil {
					observability.CLILogger.Warn("Failed to store scan report",
						zap.String("file", result.Value.FileName),
						zap.Error(saveErr))
				}
			}
			summary.Add(row)
		})
	logLimiterStats(client.Limiter)

	summary.Duration = time.Since(startedAt)
	return summary, err
}

// skipStored drops archives whose hash already has a completed report and
// restores their .rpt report from the store.
func skipStored(ctx context.Context, db *store.Store, paths []string, summary *output.ScanSummary) []string {
	remaining := make([]string, 0, len(paths))
	for _, path := range paths {
		digest, err := virustotal.FileSHA256(path)
		if err != nil {
			remaining = append(remaining, path)
			continue
		}
		record, err := db.GetScanReport(ctx, digest)
		if err != nil {
			observability.CLILogger.Warn("Failed to read stored report", zap.String("file", filepath.Base(path)), zap.Error(err))
			remaining = append(remaining, path)
			continue
		}
		if record == nil || !record.Verdict.Final() {
			remaining = append(remaining, path)
			continue
		}

		if record.Report != "" {
			if err := os.WriteFile(virustotal.ReportPath(path), []byte(record.Report), 0o644); err != nil {
				observability.CLILogger.Warn("Failed to restore report", zap.String("file", filepath.Base(path)), zap.Error(err))
			}
		}

		row := output.ScanRow{Skipped: "stored report"}
		row.Outcome.ScanID = record.ScanID
		row.Outcome.FileName = filepath.Base(path)
		row.Outcome.Path = path
		row.Outcome.SHA256 = record.SHA256
		row.Outcome.Verdict = record.Verdict
		row.Outcome.Positives = record.Positives
		row.Outcome.ScannedAt = record.ScannedAt
		summary.Add(row)
	}
	return remaining
}
