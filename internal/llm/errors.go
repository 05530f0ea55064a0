// Error kinds surfaced by the dispatcher path. Classification follows the
// usual split: contract violations before I/O, selection failures, breaker
// short-circuits, upstream failures and cancellation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAborted is the canonical cancellation error. Every suspension point
// (rate-limit wait, retry sleep, provider I/O) surfaces it when the caller's
// context is done.
var ErrAborted = errors.New("aborted")

// Abort wraps a context error into the canonical aborted error, preserving
// the cause for errors.Is inspection.
func Abort(cause error) error {
	if cause == nil {
		return ErrAborted
	}
	return fmt.Errorf("%w: %v", ErrAborted, cause)
}

// IsAborted reports whether err is (or wraps) the canonical aborted error or
// a bare context error.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ContractError indicates a request that failed validation before any
// network I/O.
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string { return "contract violation: " + e.Msg }

// NoProviderError indicates that no registered provider serves the requested
// model or alias. Provider is set when the caller pinned a specific provider
// key that does not serve the model (or is not registered at all).
type NoProviderError struct {
	Provider string
	Model    string
}

func (e *NoProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %q does not serve model %q", e.Provider, e.Model)
	}
	if e.Model == "" {
		return "no provider registered"
	}
	return fmt.Sprintf("no provider for model %q", e.Model)
}

// CircuitOpenError indicates the provider's breaker rejected the call before
// any I/O.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %q", e.Provider)
}

// LLMError is a normalized upstream failure. Provider adapters wrap SDK
// errors into this shape so the retry layer and the breaker can classify
// them without knowing provider specifics.
type LLMError struct {
	Provider   string
	Status     int // HTTP status when known, 0 otherwise
	RequestID  string
	Retryable  bool
	RetryAfter time.Duration // server hint, 0 when absent
	Err        error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d", e.Provider, e.Status)
}

func (e *LLMError) Unwrap() error { return e.Err }

// HTTPStatus exposes the status for the retry layer's status classifier.
func (e *LLMError) HTTPStatus() int { return e.Status }

// RetryAfterHint exposes the server backoff hint for the retry layer.
func (e *LLMError) RetryAfterHint() time.Duration { return e.RetryAfter }

// HardFailure reports whether the error is client-caused (4xx except
// 408/429). Hard failures never count against a breaker.
func HardFailure(err error) bool {
	var le *LLMError
	if !errors.As(err, &le) {
		return false
	}
	s := le.Status
	if s < 400 || s >= 500 {
		return false
	}
	return s != 408 && s != 429
}

// AggregateError collects the per-target failures of a race that found no
// winner.
type AggregateError struct {
	Errs []error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("all %d providers failed: %v", len(e.Errs), errors.Join(e.Errs...))
}

func (e *AggregateError) Unwrap() []error { return e.Errs }
