package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCredentials is returned by the rotation limiter when it was built without credentials.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrThrottled matches every ThrottleError via errors.Is.
	ErrThrottled = errors.New("remote service throttled the request")

	// ErrPanicked wraps a panic recovered from a unit of work.
	ErrPanicked = errors.New("unit panicked")
)

// ThrottleError reports an explicit rate limit rejection from the remote service.
type ThrottleError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottleError) Error() string {
	msg := ErrThrottled.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ThrottleError) Unwrap() error {
	return e.Err
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

// IsThrottled reports whether err carries a throttle signal and returns it.
func IsThrottled(err error) (*ThrottleError, bool) {
	var throttle *ThrottleError
	if errors.As(err, &throttle) {
		return throttle, true
	}
	return nil, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
