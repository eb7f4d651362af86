// Package remote holds the HTTP plumbing shared by the registry and scanner clients.
package remote

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

const maxErrorBody = 512

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ResponseError converts a non-2xx response into an error and returns nil
// otherwise. 429 responses become engine.ThrottleError values carrying the
// Retry-After delay. The body is only read on error.
func ResponseError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%s: %s", describe(resp), statusText(resp.StatusCode, body))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &engine.ThrottleError{
			StatusCode: resp.StatusCode,
			RetryAfter: RetryAfter(resp),
			Err:        cause,
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Err: cause}
}

// RetryAfter parses the Retry-After header as whole seconds or an HTTP date.
// Negative, fractional or unparseable values yield zero.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retry); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		if wait := time.Until(parsed); wait > 0 {
			return wait
		}
	}
	return 0
}

// UserAgent returns the User-Agent sent by every client.
func UserAgent(toolVersion string) string {
	if strings.TrimSpace(toolVersion) == "" {
		toolVersion = "dev"
	}
	return "pkgsentry/" + toolVersion
}

func describe(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return "request"
	}
	return resp.Request.Method + " " + resp.Request.URL.Redacted()
}

func statusText(code int, body []byte) string {
	text := fmt.Sprintf("%d %s", code, http.StatusText(code))
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		text += ": " + trimmed
	}
	return text
}
