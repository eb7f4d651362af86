package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/require"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

func TestClassify(t *testing.T) {
	ctx := WithCorrelationID(context.Background())
	id := CorrelationID(ctx)
	require.NotEmpty(t, id)

	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "cancelled", err: fmt.Errorf("scan: %w", context.Canceled), code: CodeCancelled},
		{name: "deadline", err: context.DeadlineExceeded, code: CodeTimeout},
		{name: "no credentials", err: engine.ErrNoCredentials, code: CodeConfigInvalid},
		{name: "throttled", err: &engine.ThrottleError{StatusCode: 429}, code: CodeThrottled},
		{name: "other", err: fmt.Errorf("boom"), code: CodeExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := Classify(ctx, tt.err, "operation failed")
			require.NotNil(t, envelope)
			require.Equal(t, tt.code, envelope.Code)
			require.Equal(t, "operation failed", envelope.Message)
			require.Equal(t, id, envelope.CorrelationID)
			require.Equal(t, tt.err.Error(), envelope.Context["wrapped_error"])
		})
	}

	require.Nil(t, Classify(ctx, nil, "nothing"))

	existing := NewInvalidInputError("bad flag")
	require.Same(t, existing, Classify(ctx, existing, "ignored"))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, foundry.ExitCode(0), ExitCode(nil))
	require.Equal(t, foundry.ExitConfigInvalid, ExitCode(NewConfigInvalidError("missing keys")))
	require.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(WrapExternalService(context.Background(), fmt.Errorf("502"), "registry down")))
	require.Equal(t, foundry.ExitFileNotFound, ExitCode(WrapNotFound(context.Background(), fmt.Errorf("missing"), "no list")))
	require.Equal(t, foundry.ExitFailure, ExitCode(fmt.Errorf("plain")))
}

func TestEnsureEnvelope(t *testing.T) {
	envelope := EnsureEnvelope(fmt.Errorf("raw failure"))
	require.Equal(t, CodeInternal, envelope.Code)
	require.Equal(t, "raw failure", envelope.Context["wrapped_error"])

	require.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}
