// Package virustotal is a small VirusTotal v3 client. Every request runs
// through a KeyRotationLimiter so API keys share the load and a throttled
// key sits out its cooldown.
package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	"github.com/pkgsentry/pkgsentry/internal/core/remote"
)

const (
	defaultBaseURL = "https://www.virustotal.com/api/v3/"
	requestWeight  = 1
	maxReportBody  = 32 << 20
)

// Client performs VirusTotal API calls.
type Client struct {
	HTTP        *http.Client
	BaseURL     string
	Limiter     *engine.KeyRotationLimiter
	ToolVersion string
}

// fileReport pairs the decoded report with the raw body that is persisted.
type fileReport struct {
	report *FileReport
	raw    []byte
}

type uploadResponse struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

// GetFileReport fetches the report for a file hash. A nil report with a nil
// error means VirusTotal has never seen the file.
func (c *Client) GetFileReport(ctx context.Context, sha256 string) (*FileReport, error) {
	result, err := c.getFileReport(ctx, sha256)
	if err != nil || result == nil {
		return nil, err
	}
	return result.report, nil
}

func (c *Client) getFileReport(ctx context.Context, sha256 string) (*fileReport, error) {
	sha256 = strings.ToLower(strings.TrimSpace(sha256))
	if sha256 == "" {
		return nil, errors.New("file hash is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return engine.WithRateLimiting(ctx, c.Limiter, requestWeight, func(ctx context.Context, apiKey string) (*fileReport, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("files/"+sha256), nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req, apiKey)

		resp, err := c.httpClient().Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if err := remote.ResponseError(resp); err != nil {
			return nil, err
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBody))
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", sha256, err)
		}
		var report FileReport
		if err := json.Unmarshal(raw, &report); err != nil {
			return nil, fmt.Errorf("decode report %s: %w", sha256, err)
		}
		return &fileReport{report: &report, raw: raw}, nil
	})
}

// UploadFile submits a file for analysis and returns the analysis id.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("file name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}
	payload := body.Bytes()

	return engine.WithRateLimiting(ctx, c.Limiter, requestWeight, func(ctx context.Context, apiKey string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("files"), bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		c.authorize(req, apiKey)
		req.Header.Set("Content-Type", form.FormDataContentType())

		resp, err := c.httpClient().Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

		if err := remote.ResponseError(resp); err != nil {
			return "", err
		}

		var decoded uploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
		return decoded.Data.ID, nil
	})
}

func (c *Client) authorize(req *http.Request, apiKey string) {
	req.Header.Set("x-apikey", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", remote.UserAgent(c.ToolVersion))
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + path
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 2 * time.Minute}
}
