// Package nuget talks to the NuGet v3 APIs: search, registration metadata and
// the flat container used for downloads.
package nuget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/remote"
)

const (
	defaultSearchURL        = "https://azuresearch-usnc.nuget.org/query"
	defaultRegistrationURL  = "https://api.nuget.org/v3/registration5-semver1/"
	defaultFlatContainerURL = "https://api.nuget.org/v3-flatcontainer/"
	defaultPageSize         = 1000
)

// Client performs NuGet API calls. The zero value talks to nuget.org.
type Client struct {
	HTTP             *http.Client
	SearchURL        string
	RegistrationURL  string
	FlatContainerURL string
	PageSize         int
	Frameworks       []string
	SkipPatterns     []string
	ToolVersion      string
}

// Release is one version of a package as reported by the registration index.
type Release struct {
	Package    core.Package
	Version    Version
	Listed     bool
	Deprecated bool
}

type searchResponse struct {
	TotalHits int         `json:"totalHits"`
	Data      []searchHit `json:"data"`
}

type searchHit struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Deprecation json.RawMessage `json:"deprecation"`
}

type registrationIndex struct {
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	ID    string             `json:"@id"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	CatalogEntry catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID                string          `json:"id"`
	Version           string          `json:"version"`
	Listed            *bool           `json:"listed"`
	LicenseExpression string          `json:"licenseExpression"`
	Deprecation       json.RawMessage `json:"deprecation"`
	DependencyGroups  []struct {
		Dependencies []struct {
			ID string `json:"id"`
		} `json:"dependencies"`
	} `json:"dependencyGroups"`
}

// Search pages through every result for term, including pre-releases.
// Hits matching a skip pattern or describing themselves as not meant to be
// referenced directly are dropped, and ids are de-duplicated.
func (c *Client) Search(ctx context.Context, term string) ([]core.SearchHit, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pageSize := c.pageSize()
	var hits []core.SearchHit
	for skip := 0; ; skip += pageSize {
		page, err := c.searchPage(ctx, term, skip, pageSize)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", term, err)
		}
		for _, hit := range page.Data {
			hits = append(hits, core.SearchHit{
				ID:          hit.ID,
				Version:     hit.Version,
				Description: hit.Description,
				Listed:      true,
				Deprecated:  present(hit.Deprecation),
			})
		}
		if len(page.Data) < pageSize {
			break
		}
	}

	return Dedupe(FilterHits(hits, c.SkipPatterns)), nil
}

func (c *Client) searchPage(ctx context.Context, term string, skip, take int) (*searchResponse, error) {
	endpoint, err := url.Parse(c.searchURL())
	if err != nil {
		return nil, err
	}

	query := endpoint.Query()
	query.Set("q", term)
	query.Set("skip", strconv.Itoa(skip))
	query.Set("take", strconv.Itoa(take))
	query.Set("prerelease", "true")
	query.Set("semVerLevel", "2.0.0")
	for _, framework := range c.Frameworks {
		if framework = strings.TrimSpace(framework); framework != "" {
			query.Add("supportedFramework", framework)
		}
	}
	endpoint.RawQuery = query.Encode()

	var page searchResponse
	if err := c.getJSON(ctx, endpoint.String(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Metadata returns every release of id ordered by descending version.
// Registration pages that are not inlined in the index are fetched.
func (c *Client) Metadata(ctx context.Context, id string) ([]Release, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("package id is required")
	}

	var index registrationIndex
	indexURL := joinURL(c.registrationURL(), strings.ToLower(id), "index.json")
	if err := c.getJSON(ctx, indexURL, &index); err != nil {
		return nil, fmt.Errorf("metadata %s: %w", id, err)
	}

	var releases []Release
	for _, page := range index.Items {
		leaves := page.Items
		if leaves == nil && page.ID != "" {
			var full registrationPage
			if err := c.getJSON(ctx, page.ID, &full); err != nil {
				return nil, fmt.Errorf("metadata %s page: %w", id, err)
			}
			leaves = full.Items
		}
		for _, leaf := range leaves {
			release, err := leaf.CatalogEntry.release()
			if err != nil {
				continue
			}
			releases = append(releases, release)
		}
	}

	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].Version.Compare(releases[j].Version) > 0
	})
	return releases, nil
}

func (e catalogEntry) release() (Release, error) {
	version, err := ParseVersion(e.Version)
	if err != nil {
		return Release{}, err
	}

	var deps []string
	seen := map[string]struct{}{}
	for _, group := range e.DependencyGroups {
		for _, dep := range group.Dependencies {
			if _, ok := seen[dep.ID]; ok || dep.ID == "" {
				continue
			}
			seen[dep.ID] = struct{}{}
			deps = append(deps, dep.ID)
		}
	}

	return Release{
		Package: core.Package{
			ID:           e.ID,
			Version:      e.Version,
			License:      e.LicenseExpression,
			Dependencies: deps,
		},
		Version:    version,
		Listed:     e.Listed == nil || *e.Listed,
		Deprecated: present(e.Deprecation),
	}, nil
}

// Resolve turns a search hit into the versions worth downloading.
// Deprecated or unlisted packages resolve to no versions.
func (c *Client) Resolve(ctx context.Context, hit core.SearchHit) (core.PackageResult, error) {
	result := core.PackageResult{ID: hit.ID}
	if hit.Deprecated || !hit.Listed {
		return result, nil
	}

	releases, err := c.Metadata(ctx, hit.ID)
	if err != nil {
		return result, err
	}

	listed := releases[:0:0]
	for _, release := range releases {
		if strings.EqualFold(release.Package.Version, hit.Version) && release.Deprecated {
			return result, nil
		}
		if release.Listed {
			listed = append(listed, release)
		}
	}

	for _, release := range SelectVersions(hit.ID, listed) {
		result.Versions = append(result.Versions, release.Package)
	}
	return result, nil
}

// Download streams the archive for pkg into dir as "{id}.{version}.nupkg".
func (c *Client) Download(ctx context.Context, pkg core.Package, dir string) (core.DownloadResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := core.DownloadResult{Package: pkg}

	version, err := ParseVersion(pkg.Version)
	if err != nil {
		return result, err
	}
	id := strings.ToLower(strings.TrimSpace(pkg.ID))
	normalized := strings.ToLower(version.Normalized())
	archiveURL := joinURL(c.flatContainerURL(), id, normalized, id+"."+normalized+".nupkg")

	resp, err := c.get(ctx, archiveURL, "application/octet-stream")
	if err != nil {
		return result, fmt.Errorf("download %s: %w", pkg.IDWithVersion(), err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pkgsentry-*.part")
	if err != nil {
		return result, err
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck // no-op after a successful rename

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return result, fmt.Errorf("download %s: %w", pkg.IDWithVersion(), copyErr)
	}
	if closeErr != nil {
		return result, closeErr
	}

	target := filepath.Join(dir, pkg.IDWithVersion()+".nupkg")
	if err := os.Rename(tmp.Name(), target); err != nil {
		return result, err
	}

	result.Path = target
	result.Bytes = written
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target any) error {
	resp, err := c.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// get returns the response for 2xx statuses only; the caller closes the body.
func (c *Client) get(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", remote.UserAgent(c.ToolVersion))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if err := remote.ResponseError(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

func (c *Client) searchURL() string {
	if strings.TrimSpace(c.SearchURL) != "" {
		return c.SearchURL
	}
	return defaultSearchURL
}

func (c *Client) registrationURL() string {
	if strings.TrimSpace(c.RegistrationURL) != "" {
		return c.RegistrationURL
	}
	return defaultRegistrationURL
}

func (c *Client) flatContainerURL() string {
	if strings.TrimSpace(c.FlatContainerURL) != "" {
		return c.FlatContainerURL
	}
	return defaultFlatContainerURL
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, part := range parts {
		out += "/" + url.PathEscape(part)
	}
	return out
}

func present(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}
