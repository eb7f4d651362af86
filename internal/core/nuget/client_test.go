package nuget

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		HTTP:             server.Client(),
		SearchURL:        server.URL + "/query",
		RegistrationURL:  server.URL + "/registration/",
		FlatContainerURL: server.URL + "/flat/",
		PageSize:         2,
		Frameworks:       []string{"net8.0"},
		SkipPatterns:     []string{"runtime."},
		ToolVersion:      "test",
	}
}

func TestSearchPagesAndFilters(t *testing.T) {
	pages := map[string]string{
		"0": `{"totalHits":5,"data":[
			{"id":"Serilog","version":"3.1.1","description":"Simple logging"},
			{"id":"runtime.linux-x64.Thing","version":"1.0.0"}]}`,
		"2": `{"totalHits":5,"data":[
			{"id":"Serilog.Internal","version":"1.0.0","description":"Do NOT reference directly."},
			{"id":"serilog","version":"3.1.1"}]}`,
		"4": `{"totalHits":5,"data":[
			{"id":"Serilog.Sinks.File","version":"5.0.0","deprecation":{"reasons":["Legacy"]}}]}`,
	}

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, "/query", r.URL.Path)
		query := r.URL.Query()
		require.Equal(t, "owner:serilog", query.Get("q"))
		require.Equal(t, "2", query.Get("take"))
		require.Equal(t, "true", query.Get("prerelease"))
		require.Equal(t, "2.0.0", query.Get("semVerLevel"))
		require.Equal(t, "net8.0", query.Get("supportedFramework"))
		require.Equal(t, "pkgsentry/test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pages[query.Get("skip")]))
	}))
	defer server.Close()

	hits, err := newTestClient(server).Search(context.Background(), "owner:serilog")
	require.NoError(t, err)
	require.Equal(t, int32(3), requests.Load())

	require.Len(t, hits, 2)
	require.Equal(t, "Serilog", hits[0].ID)
	require.False(t, hits[0].Deprecated)
	require.Equal(t, "Serilog.Sinks.File", hits[1].ID)
	require.True(t, hits[1].Deprecated)
}

func TestSearchThrottled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server).Search(context.Background(), "anything")
	throttle, ok := engine.IsThrottled(err)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, throttle.RetryAfter)
}

func registrationHandler(t *testing.T, serverURL *string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/registration/microsoft.extensions.logging/index.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"items":[
			{"@id":"%s/registration/microsoft.extensions.logging/page1.json"},
			{"items":[
				{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"8.0.0","licenseExpression":"MIT",
					"dependencyGroups":[{"dependencies":[{"id":"Microsoft.Extensions.Options"}]},{"dependencies":[{"id":"Microsoft.Extensions.Options"}]}]}},
				{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"9.0.0-preview.1","licenseExpression":"MIT"}},
				{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"7.0.0","licenseExpression":"MIT"}},
				{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"7.0.1","licenseExpression":"MIT","listed":false}}
			]}
		]}`, *serverURL)
	})
	mux.HandleFunc("/registration/microsoft.extensions.logging/page1.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"6.0.0-rc.2","licenseExpression":"MIT"}},
			{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"6.0.0","licenseExpression":"MIT"}},
			{"catalogEntry":{"id":"Microsoft.Extensions.Logging","version":"not-a-version"}}
		]}`))
	})
	mux.HandleFunc("/registration/legacy.lib/index.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"items":[
			{"catalogEntry":{"id":"Legacy.Lib","version":"2.0.0","deprecation":{"reasons":["Other"]}}},
			{"catalogEntry":{"id":"Legacy.Lib","version":"1.0.0"}}
		]}]}`))
	})
	mux.HandleFunc("/registration/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return mux
}

func TestMetadataFollowsPages(t *testing.T) {
	var serverURL string
	server := httptest.NewServer(registrationHandler(t, &serverURL))
	defer server.Close()
	serverURL = server.URL

	releases, err := newTestClient(server).Metadata(context.Background(), "Microsoft.Extensions.Logging")
	require.NoError(t, err)

	versions := make([]string, 0, len(releases))
	for _, release := range releases {
		versions = append(versions, release.Package.Version)
	}
	require.Equal(t, []string{"9.0.0-preview.1", "8.0.0", "7.0.1", "7.0.0", "6.0.0", "6.0.0-rc.2"}, versions)
	require.Equal(t, []string{"Microsoft.Extensions.Options"}, releases[1].Package.Dependencies)
	require.False(t, releases[2].Listed)
}

func TestResolve(t *testing.T) {
	var serverURL string
	server := httptest.NewServer(registrationHandler(t, &serverURL))
	defer server.Close()
	serverURL = server.URL
	client := newTestClient(server)

	t.Run("platform package keeps one release per major", func(t *testing.T) {
		result, err := client.Resolve(context.Background(), core.SearchHit{ID: "Microsoft.Extensions.Logging", Version: "9.0.0-preview.1", Listed: true})
		require.NoError(t, err)

		versions := []string{}
		for _, pkg := range result.Versions {
			versions = append(versions, pkg.Version)
			require.Equal(t, "MIT", pkg.License)
		}
		require.Equal(t, []string{"8.0.0", "7.0.0", "6.0.0"}, versions)
	})

	t.Run("deprecated hit has no versions", func(t *testing.T) {
		result, err := client.Resolve(context.Background(), core.SearchHit{ID: "Serilog", Listed: true, Deprecated: true})
		require.NoError(t, err)
		require.Equal(t, "Serilog", result.ID)
		require.Empty(t, result.Versions)
	})

	t.Run("deprecated latest release has no versions", func(t *testing.T) {
		result, err := client.Resolve(context.Background(), core.SearchHit{ID: "Legacy.Lib", Version: "2.0.0", Listed: true})
		require.NoError(t, err)
		require.Empty(t, result.Versions)
	})

	t.Run("unknown package fails", func(t *testing.T) {
		_, err := client.Resolve(context.Background(), core.SearchHit{ID: "Missing", Listed: true})
		require.ErrorContains(t, err, "404")
	})
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flat/serilog/3.1.1/serilog.3.1.1.nupkg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PK-archive"))
	}))
	defer server.Close()

	dir := t.TempDir()
	client := newTestClient(server)

	result, err := client.Download(context.Background(), core.Package{ID: "Serilog", Version: "3.1.1"}, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Serilog.3.1.1.nupkg"), result.Path)
	require.Equal(t, int64(len("PK-archive")), result.Bytes)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Equal(t, "PK-archive", string(data))

	_, err = client.Download(context.Background(), core.Package{ID: "Missing", Version: "1.0.0"}, dir)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDownloadPackagesStream(t *testing.T) {
	var flakyCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "flaky") && flakyCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	packages := make([]core.Package, 0, 8)
	for i := 0; i < 7; i++ {
		packages = append(packages, core.Package{ID: "Pkg" + strconv.Itoa(i), Version: "1.0.0"})
	}
	packages = append(packages, core.Package{ID: "Flaky", Version: "2.0.0"})

	p := engine.NewPipeline(engine.PipelineConfig{TicksPerSecond: 20, MaxConcurrent: 1, RefillInterval: 5 * time.Millisecond})
	dir := t.TempDir()

	var results []DownloadStreamResult
	for result := range newTestClient(server).DownloadPackages(context.Background(), p, packages, dir) {
		results = append(results, result)
	}

	require.Len(t, results, len(packages)+1)
	require.Equal(t, len(packages), results[0].Count)

	names := []string{}
	for _, result := range results[1:] {
		require.False(t, result.IsAnnouncement())
		require.NoError(t, result.Err)
		names = append(names, filepath.Base(result.Value.Path))
		if result.Item.Payload.ID == "Flaky" {
			require.Equal(t, 2, result.Attempts)
		}
	}
	sort.Strings(names)
	require.Len(t, names, len(packages))
	require.Contains(t, names, "Flaky.2.0.0.nupkg")
	require.Contains(t, names, "Pkg0.1.0.0.nupkg")
}
