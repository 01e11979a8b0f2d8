// Package errs implements the error taxonomy of the precompute pipeline.
//
// Library and utility functions fail fast with one of the typed errors
// below; an absent-value sentinel on failure is never used in place of an
// error, since that cascades into silent downstream failures.
package errs

import (
	"errors"
	"fmt"
)

// FetchKind classifies why a fetch against the market-data provider failed.
type FetchKind string

const (
	KindTimeout   FetchKind = "timeout"
	KindRateLimit FetchKind = "rate-limit"
	KindEmpty     FetchKind = "empty"
	KindTransport FetchKind = "transport"
)

// FetchError is returned by internal/fetcher. It carries enough information
// for the worker to decide whether to let the queue redeliver the message.
type FetchError struct {
	Kind      FetchKind
	Symbol    string
	Retryable bool
	Cause     error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s failed (%s, retryable=%v): %v", e.Symbol, e.Kind, e.Retryable, e.Cause)
	}
	return fmt.Sprintf("fetch %s failed (%s, retryable=%v)", e.Symbol, e.Kind, e.Retryable)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// NewFetchError builds a FetchError, deriving Retryable from Kind when the
// caller doesn't need to override it.
func NewFetchError(symbol string, kind FetchKind, cause error) *FetchError {
	return &FetchError{
		Kind:      kind,
		Symbol:    symbol,
		Retryable: kind == KindTimeout || kind == KindRateLimit || kind == KindTransport,
		Cause:     cause,
	}
}

// Sentinel errors for the remaining rows of the §7 taxonomy table.
var (
	// ErrNotFound is returned when an alias or artifact lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrOperationFailed is returned when an INSERT/UPDATE affects zero rows
	// where the caller expected exactly one — never treated as a silent no-op.
	ErrOperationFailed = errors.New("operation affected zero rows")

	// ErrSchemaMismatch surfaces immediately on a repository write against a
	// schema that doesn't match the code's expectations.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrConfigMissing aborts startup; never silently defaulted.
	ErrConfigMissing = errors.New("required configuration missing")

	// ErrInvariantViolation marks a bug: derived-before-raw, duplicate
	// observation dates, or any other condition the system assumes away.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTimeout marks a worker execution that exceeded its wall-clock budget.
	ErrTimeout = errors.New("execution deadline exceeded")

	// ErrPrecomputeMissing is the read API's fail-fast response when an
	// artifact is absent or not yet completed.
	ErrPrecomputeMissing = errors.New("precompute missing")
)

// OperationFailed wraps ErrOperationFailed with the table/key that failed,
// for logging.
func OperationFailed(table, key string) error {
	return fmt.Errorf("%w: table=%s key=%s", ErrOperationFailed, table, key)
}

// SchemaMismatch wraps ErrSchemaMismatch with the offending detail.
func SchemaMismatch(detail string) error {
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, detail)
}

// ConfigMissing wraps ErrConfigMissing with the list of missing variables.
func ConfigMissing(vars ...string) error {
	return fmt.Errorf("%w: %v", ErrConfigMissing, vars)
}

// InvariantViolation wraps ErrInvariantViolation with a correlation id so the
// bug report can be traced back to one run.
func InvariantViolation(correlationID, detail string) error {
	return fmt.Errorf("%w [correlation_id=%s]: %s", ErrInvariantViolation, correlationID, detail)
}
