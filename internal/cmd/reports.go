package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/store"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/output"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List stored scan reports",
	Long: `List the scan reports kept in the report store, newest first.

Examples:
  pkgsentry reports
  pkgsentry reports --verdict flagged --output json
  pkgsentry reports --limit 20 --output markdown`,
	Args: cobra.NoArgs,
	RunE: runReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)

	reportsCmd.Flags().String("verdict", "", "Only show reports with this verdict: ok, flagged, pending")
	reportsCmd.Flags().String("output", "table", "Output format: table, json, markdown")
	reportsCmd.Flags().Int("limit", 0, "Maximum number of reports (0 = all)")
}

func runReports(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	verdictValue, err := cmd.Flags().GetString("verdict")
	if err != nil {
		return err
	}
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	verdict, err := parseVerdict(verdictValue)
	if err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "invalid --verdict")
	}
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "invalid --output")
	}
	if limit < 0 {
		return errwrap.NewInvalidInputError("--limit must not be negative")
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return listReports(ctx, cfg, store.ReportFilter{Verdict: verdict, Limit: limit}, format, cmd.OutOrStdout())
}

func listReports(ctx context.Context, cfg *config.Config, filter store.ReportFilter, format output.Format, w io.Writer) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort close on exit

	records, err := db.ListScanReports(ctx, filter)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "failed to list scan reports")
	}

	rendered, err := output.NewFormatter(format).FormatReports(records)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}

func parseVerdict(value string) (core.Verdict, error) {
	switch verdict := core.Verdict(strings.ToLower(strings.TrimSpace(value))); verdict {
	case "", core.VerdictOK, core.VerdictFlagged, core.VerdictPending:
		return verdict, nil
	default:
		return "", fmt.Errorf("unknown verdict %q (use ok, flagged or pending)", value)
	}
}
