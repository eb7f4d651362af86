package errors

import (
	"context"
	stderrors "errors"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	"github.com/pkgsentry/pkgsentry/internal/metrics"
)

// Error codes used across commands.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabase        = "DATABASE_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeThrottled       = "THROTTLED"
	CodeTimeout         = "TIMEOUT"
	CodeCancelled       = "CANCELLED"
	CodeInternal        = "INTERNAL_ERROR"
)

type correlationKey struct{}

// WithCorrelationID returns a context carrying a fresh run correlation ID.
func WithCorrelationID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey{}, uuid.NewString())
}

// CorrelationID returns the run correlation ID stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

// Wrap functions for existing errors.
// The context supplies the run correlation ID.

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeNotFound, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDatabase, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func WrapTimeout(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeTimeout, err, message)
}

func WrapCancelled(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeCancelled, err, message)
}

// Classify wraps err in an envelope whose code follows the error's kind.
// Envelopes pass through unchanged.
func Classify(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return WrapCancelled(ctx, err, message)
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapTimeout(ctx, err, message)
	case stderrors.Is(err, engine.ErrNoCredentials):
		return WrapConfigInvalid(ctx, err, message)
	case stderrors.Is(err, engine.ErrThrottled):
		return wrap(ctx, CodeThrottled, err, message)
	default:
		return wrap(ctx, CodeExternalService, err, message)
	}
}

// ExitCodeFor maps an envelope code onto a foundry exit code.
func ExitCodeFor(code string) foundry.ExitCode {
	switch code {
	case CodeConfigInvalid:
		return foundry.ExitConfigInvalid
	case CodeNotFound:
		return foundry.ExitFileNotFound
	case CodeExternalService, CodeThrottled:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitCode resolves the exit code for any error and records it.
func ExitCode(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitCode(0)
	}
	envelope := EnsureEnvelope(err)
	code := ExitCodeFor(envelope.Code)
	metrics.RecordError(envelope.Code, int(code))
	return code
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	correlationID := CorrelationID(ctx)
	if correlationID == "" {
		correlationID = errors.GenerateCorrelationID()
	}
	envelope = envelope.WithCorrelationID(correlationID)
	envelope = envelope.WithTraceID(correlationID)
	envelope = withWrappedError(envelope, err)
	return envelope
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	updated.Original = err
	return updated
}
