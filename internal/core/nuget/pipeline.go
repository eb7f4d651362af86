package nuget

import (
	"context"
	"iter"

	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

// MetadataResult is one element of a ProcessSearchResults stream.
type MetadataResult = engine.Result[core.SearchHit, core.PackageResult]

// DownloadStreamResult is one element of a DownloadPackages stream.
type DownloadStreamResult = engine.Result[core.Package, core.DownloadResult]

// ProcessSearchResults resolves the versions to keep for every hit.
// The stream starts with the count announcement.
func (c *Client) ProcessSearchResults(ctx context.Context, p *engine.Pipeline, hits []core.SearchHit) iter.Seq[MetadataResult] {
	return engine.Map(ctx, p, hits, c.Resolve)
}

// DownloadPackages downloads every package into dir.
// The stream starts with the count announcement.
func (c *Client) DownloadPackages(ctx context.Context, p *engine.Pipeline, packages []core.Package, dir string) iter.Seq[DownloadStreamResult] {
	return engine.Map(ctx, p, packages, func(ctx context.Context, pkg core.Package) (core.DownloadResult, error) {
		return c.Download(ctx, pkg, dir)
	})
}
