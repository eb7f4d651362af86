package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	"github.com/pkgsentry/pkgsentry/internal/core/nuget"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/observability"
	"github.com/pkgsentry/pkgsentry/internal/output"
)

const defaultPackageList = "package_list.tsv"

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Prepare a list of NuGet packages",
	Long: `Search NuGet for every search term, resolve the versions worth keeping and
write the package list.

Search terms default to nuget.search_terms, then to a curated list of
well-known owners and packages.

Examples:
  pkgsentry list
  pkgsentry list --term owner:serilog --term packageid:Polly -f serilog.tsv
  pkgsentry list --format yaml -f -`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringArray("term", nil, "Search term (repeatable)")
	listCmd.Flags().StringP("file", "f", defaultPackageList, "Package list to write (- for stdout)")
	listCmd.Flags().String("format", "", "List format: tsv, json, yaml (default from file extension)")
}

type listOptions struct {
	Terms  []string
	File   string
	Format output.ListFormat
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	terms, err := cmd.Flags().GetStringArray("term")
	if err != nil {
		return err
	}
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}
	formatValue, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}

	opts := listOptions{Terms: terms, File: strings.TrimSpace(file)}
	if opts.File == "" {
		opts.File = defaultPackageList
	}
	if strings.TrimSpace(formatValue) != "" {
		if opts.Format, err = output.ParseListFormat(formatValue); err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --format")
		}
	} else {
		opts.Format = output.ListFormatForPath(opts.File)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return prepareList(ctx, cfg, opts, cmd.OutOrStdout())
}

// prepareList searches every term, resolves versions and writes the list.
func prepareList(ctx context.Context, cfg *config.Config, opts listOptions, stdout io.Writer) error {
	terms := searchTerms(opts.Terms, cfg.NuGet.SearchTerms)
	client := newNuGetClient(cfg)
	pipeline := nugetPipeline(cfg)

	observability.CLILogger.Info("Preparing NuGet package list",
		zap.Int("terms", len(terms)),
		zap.String("file", opts.File))

	var hits []core.SearchHit
	_, err := drain(ctx, "search", "Fetching list",
		engine.Map(ctx, pipeline, terms, client.Search),
		func(term string) string { return term },
		func(result engine.Result[string, []core.SearchHit]) {
			if result.Failed() {
				return
			}
			observability.CLILogger.Debug("Fetched search results",
				zap.String("term", result.Item.Payload),
				zap.Int("hits", len(result.Value)))
			hits = append(hits, result.Value...)
		})
	if err != nil {
		return err
	}
	hits = nuget.Dedupe(hits)

	var packages []core.Package
	_, err = drain(ctx, "metadata", "Fetching metadata",
		client.ProcessSearchResults(ctx, pipeline, hits),
		func(hit core.SearchHit) string { return hit.ID },
		func(result nuget.MetadataResult) {
			if !result.Failed() {
				packages = append(packages, result.Value.Versions...)
			}
		})
	if err != nil {
		return err
	}

	output.SortPackages(packages)
	if err := writeList(opts, packages, stdout); err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "failed to write package list")
	}

	observability.CLILogger.Info("Stored package list",
		zap.Int("packages", len(packages)),
		zap.Int("search_hits", len(hits)),
		zap.String("file", opts.File))
	return nil
}

func writeList(opts listOptions, packages []core.Package, stdout io.Writer) error {
	if opts.File == "-" {
		return output.WritePackageList(stdout, opts.Format, packages)
	}
	return output.WritePackageListFile(opts.File, opts.Format, packages)
}

func searchTerms(flagged, configured []string) []string {
	for _, candidates := range [][]string{flagged, configured, nuget.DefaultSearchTerms} {
		var terms []string
		for _, term := range candidates {
			if term = strings.TrimSpace(term); term != "" {
				terms = append(terms, term)
			}
		}
		if len(terms) > 0 {
			return terms
		}
	}
	return nil
}

// readList loads a package list from path, or stdin for "-".
func readList(ctx context.Context, path string) ([]core.Package, error) {
	if path == "-" {
		packages, err := output.ReadPackageList(os.Stdin, output.ListTSV)
		if err != nil {
			return nil, errwrap.WrapInvalidInput(ctx, err, "invalid package list")
		}
		return packages, nil
	}

	packages, err := output.ReadPackageListFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errwrap.WrapNotFound(ctx, err, fmt.Sprintf("package list %s not found", path))
		}
		return nil, errwrap.WrapInvalidInput(ctx, err, "invalid package list")
	}
	return packages, nil
}
