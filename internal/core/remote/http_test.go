package remote

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

func response(status int, header http.Header, body string) *http.Response {
	req, _ := http.NewRequest(http.MethodGet, "https://example.test/files/abc?key=secret", nil)
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestResponseError(t *testing.T) {
	require.NoError(t, ResponseError(response(http.StatusOK, nil, "")))
	require.NoError(t, ResponseError(response(http.StatusNoContent, nil, "")))

	err := ResponseError(response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{"30"}}, "quota exceeded"))
	throttle, ok := engine.IsThrottled(err)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, throttle.RetryAfter)
	require.Contains(t, err.Error(), "quota exceeded")

	err = ResponseError(response(http.StatusBadGateway, nil, ""))
	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusBadGateway, status.StatusCode)
	require.False(t, errors.Is(err, engine.ErrThrottled))
	require.Contains(t, err.Error(), "502 Bad Gateway")
}

func TestRetryAfter(t *testing.T) {
	require.Zero(t, RetryAfter(nil))
	require.Zero(t, RetryAfter(response(http.StatusTooManyRequests, nil, "")))
	require.Equal(t, 2*time.Second, RetryAfter(response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{"2"}}, "")))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	wait := RetryAfter(response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{future}}, ""))
	require.Greater(t, wait, 60*time.Second)

	require.Zero(t, RetryAfter(response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{"soon"}}, "")))
}

func TestRetryAfterRejectsInvalidSeconds(t *testing.T) {
	for _, value := range []string{"-5", "1.5", "-0.5", "2s"} {
		resp := response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{value}}, "")
		require.Zero(t, RetryAfter(resp), value)

		throttle, ok := engine.IsThrottled(ResponseError(response(http.StatusTooManyRequests, http.Header{"Retry-After": []string{value}}, "")))
		require.True(t, ok, value)
		require.GreaterOrEqual(t, throttle.RetryAfter, time.Duration(0), value)
	}
}

func TestUserAgent(t *testing.T) {
	require.Equal(t, "pkgsentry/dev", UserAgent(""))
	require.Equal(t, "pkgsentry/1.2.0", UserAgent("1.2.0"))
}
