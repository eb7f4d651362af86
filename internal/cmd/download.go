package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/config"
	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/nuget"
	"github.com/pkgsentry/pkgsentry/internal/observability"
)

const defaultDownloadDir = "packages"

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every package of a package list",
	Long: `Download the archive of every package in the list into a directory.

Archives are written as {id}.{version}.nupkg. Requests are paced by
nuget.ticks_per_second and failed downloads are retried once.

Examples:
  pkgsentry download
  pkgsentry download -f serilog.tsv -d ./archives`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringP("file", "f", defaultPackageList, "Package list to read (- for stdin)")
	downloadCmd.Flags().StringP("dir", "d", defaultDownloadDir, "Directory for downloaded archives")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}
	if strings.TrimSpace(dir) == "" {
		dir = defaultDownloadDir
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	packages, err := readList(ctx, strings.TrimSpace(file))
	if err != nil {
		return err
	}
	_, err = downloadPackages(ctx, cfg, packages, dir)
	return err
}

// downloadPackages fetches every archive into dir and returns the written files.
func downloadPackages(ctx context.Context, cfg *config.Config, packages []core.Package, dir string) ([]core.DownloadResult, error) {
	client := newNuGetClient(cfg)

	observability.CLILogger.Info("Downloading packages",
		zap.Int("packages", len(packages)),
		zap.String("dir", dir))

	var downloaded []core.DownloadResult
	var bytes int64
	stats, err := drain(ctx, "download", "Downloading",
		client.DownloadPackages(ctx, nugetPipeline(cfg), packages, dir),
		func(pkg core.Package) string { return pkg.IDWithVersion() },
		func(result nuget.DownloadStreamResult) {
			if result.Failed() {
				return
			}
			downloaded = append(downloaded, result.Value)
			bytes += result.Value.Bytes
		})
	if err != nil {
		return downloaded, err
	}

	observability.CLILogger.Info("Downloaded packages",
		zap.Int("downloaded", len(downloaded)),
		zap.Int("failed", stats.Failed),
		zap.Int64("bytes", bytes))
	return downloaded, nil
}
