package virustotal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgsentry/pkgsentry/internal/core"
	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

func reportJSON(sha string, harmless, undetected, malicious, suspicious int) string {
	return fmt.Sprintf(`{"data":{"id":%q,"type":"file","attributes":{"sha256":%q,
		"last_analysis_stats":{"harmless":%d,"undetected":%d,"malicious":%d,"suspicious":%d}}}}`,
		sha, sha, harmless, undetected, malicious, suspicious)
}

type fakeVirusTotal struct {
	mu       sync.Mutex
	reports  map[string]string
	uploads  map[string][]byte
	keys     []string
	throttle map[string]bool
}

func newFakeVirusTotal() *fakeVirusTotal {
	return &fakeVirusTotal{
		reports:  map[string]string{},
		uploads:  map[string][]byte{},
		throttle: map[string]bool{},
	}
}

func (f *fakeVirusTotal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("x-apikey")

	f.mu.Lock()
	f.keys = append(f.keys, key)
	throttled := f.throttle[key]
	f.mu.Unlock()

	if throttled {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/files/"):
		sha := r.URL.Path[len("/files/"):]
		f.mu.Lock()
		body, ok := f.reports[sha]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NotFoundError"}}`))
			return
		}
		_, _ = w.Write([]byte(body))
	case r.Method == http.MethodPost && r.URL.Path == "/files":
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploads[header.Filename] = data
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"data":{"type":"analysis","id":"analysis-` + header.Filename + `"}}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newClient(server *httptest.Server, keys ...string) *Client {
	return &Client{
		HTTP:    server.Client(),
		BaseURL: server.URL + "/",
		Limiter: engine.NewKeyRotationLimiter(keys, engine.RotationConfig{
			Cooldown: time.Minute,
			Backoff:  time.Millisecond,
		}),
		ToolVersion: "test",
	}
}

func TestGetFileReport(t *testing.T) {
	fake := newFakeVirusTotal()
	fake.reports["abc123"] = reportJSON("abc123", 10, 60, 0, 0)
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newClient(server, "key-one")

	report, err := client.GetFileReport(context.Background(), "ABC123")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Equal(t, "abc123", report.Data.Attributes.SHA256)
	require.True(t, report.IsOK())
	require.Equal(t, core.VerdictOK, report.Verdict())

	report, err = client.GetFileReport(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, report)

	_, err = client.GetFileReport(context.Background(), " ")
	require.Error(t, err)
}

func TestUploadFileSendsMultipart(t *testing.T) {
	fake := newFakeVirusTotal()
	server := httptest.NewServer(fake)
	defer server.Close()

	id, err := newClient(server, "key-one").UploadFile(context.Background(), "Serilog.3.1.1.nupkg", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "analysis-Serilog.3.1.1.nupkg", id)
	require.Equal(t, []byte("payload"), fake.uploads["Serilog.3.1.1.nupkg"])
	require.Equal(t, []string{"key-one"}, fake.keys)
}

func TestThrottledKeyIsRotatedOut(t *testing.T) {
	fake := newFakeVirusTotal()
	fake.reports["abc"] = reportJSON("abc", 0, 70, 0, 0)
	fake.throttle["key-one"] = true
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newClient(server, "key-one", "key-two")
	var parked []string
	client.Limiter.OnCooldown = func(credential string, until time.Time, cause error) {
		parked = append(parked, credential)
	}

	for i := 0; i < 3; i++ {
		report, err := client.GetFileReport(context.Background(), "abc")
		require.NoError(t, err)
		require.NotNil(t, report)
	}

	require.Equal(t, []string{"***-one"}, parked)
	require.Equal(t, []string{"key-one", "key-two", "key-two", "key-two"}, fake.keys)
}

func TestNoKeysConfigured(t *testing.T) {
	server := httptest.NewServer(newFakeVirusTotal())
	defer server.Close()

	_, err := newClient(server).GetFileReport(context.Background(), "abc")
	require.ErrorIs(t, err, engine.ErrNoCredentials)
}

func TestServerErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"WrongCredentialsError"}}`))
	}))
	defer server.Close()

	_, err := newClient(server, "bad").GetFileReport(context.Background(), "abc")
	require.ErrorContains(t, err, "403")
	_, throttled := engine.IsThrottled(err)
	require.False(t, throttled)
}

func TestFileReportVerdicts(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		ok        bool
		positives int
		verdict   core.Verdict
	}{
		{"clean", reportJSON("a", 20, 40, 0, 0), true, 0, core.VerdictOK},
		{"too few engines", reportJSON("a", 20, 30, 0, 0), false, 0, core.VerdictFlagged},
		{"malicious", reportJSON("a", 20, 50, 2, 0), false, 2, core.VerdictFlagged},
		{"suspicious", reportJSON("a", 20, 50, 0, 1), false, 1, core.VerdictFlagged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var report FileReport
			require.NoError(t, json.Unmarshal([]byte(tc.body), &report))
			require.Equal(t, tc.ok, report.IsOK())
			require.Equal(t, tc.positives, report.Positives())
			require.Equal(t, tc.verdict, report.Verdict())
		})
	}

	var missing *FileReport
	require.False(t, missing.IsOK())
	require.Equal(t, core.VerdictPending, missing.Verdict())
}

func writeArchive(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
