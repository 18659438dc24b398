// Package errors defines the error kinds shared across services and helpers
// for standardized error logging.
package errors

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrValidation is returned for a bad envelope or bad request.
	ErrValidation = errors.New("validation error")
	// ErrAuth is returned when authentication fails.
	ErrAuth = errors.New("authentication error")
	// ErrAuthz is returned when a caller lacks a required role or scope.
	ErrAuthz = errors.New("authorization error")
	// ErrRateLimited is returned when a rate limit window is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned when a command, entity, or user is absent.
	ErrNotFound = errors.New("not found")
	// ErrDependencyUnavailable is returned when DB, Redis, or an upstream is unreachable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrTimeout is returned when a deadline is exceeded.
	ErrTimeout = errors.New("timeout")
	// ErrPolicyViolation is surfaced via enforced side-effects, never as a failure.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrInternal is returned for unexpected faults.
	ErrInternal = errors.New("internal error")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.New(msg + ": " + err.Error())
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// LogWithError logs the error with context and returns a wrapped error. Use this for standardized error logging across services.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID, ok := ctx.Value("request_id").(string); ok && reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}
