// Package retry implements bounded exponential backoff with jitter for
// upstream calls. Server hints (Retry-After) take precedence over the
// computed wait, and a status classifier decides which failures are worth
// another attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// Jitter selects the randomization applied to computed waits.
type Jitter string

const (
	// JitterNone sleeps exactly the computed wait.
	JitterNone Jitter = "none"
	// JitterFull sleeps uniformly in [0.5*wait, 1.5*wait].
	JitterFull Jitter = "full"
)

// Attempt describes one retry decision, passed to the OnRetry hook.
type Attempt struct {
	Attempt int // 1-based index of the failed attempt
	Wait    time.Duration
	Err     error
}

// Options configures a retry loop. The zero value is not usable; call
// DefaultOptions or fill MaxAttempts explicitly.
type Options struct {
	MaxAttempts int           // >= 1
	Base        time.Duration // first backoff step
	Max         time.Duration // cap on a single wait
	Jitter      Jitter
	MaxTotal    time.Duration // optional budget across all waits, 0 = unlimited
	StatusRetry func(status int) bool
	OnRetry     func(Attempt)
}

// DefaultOptions mirrors the dispatcher defaults: 3 attempts, 250ms base,
// 3s cap, full jitter.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Base:        250 * time.Millisecond,
		Max:         3 * time.Second,
		Jitter:      JitterFull,
	}
}

// DefaultStatusRetry retries on 408, 429 and 5xx only.
func DefaultStatusRetry(status int) bool {
	return status == 408 || status == 429 || (status >= 500 && status < 600)
}

// statusCarrier is satisfied by errors that carry an HTTP status.
type statusCarrier interface {
	HTTPStatus() int
}

// retryAfterCarrier is satisfied by errors that carry a server backoff hint.
type retryAfterCarrier interface {
	RetryAfterHint() time.Duration
}

func errorStatus(err error) (int, bool) {
	var sc statusCarrier
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

func errorRetryAfter(err error) (time.Duration, bool) {
	var rc retryAfterCarrier
	if errors.As(err, &rc) && rc.RetryAfterHint() > 0 {
		return rc.RetryAfterHint(), true
	}
	return 0, false
}

// Do runs fn up to opts.MaxAttempts times. On a retryable failure it sleeps
// a capped exponential backoff (honoring Retry-After hints) and tries again.
// Cancellation during the sleep raises the canonical aborted error.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Base <= 0 {
		opts.Base = 250 * time.Millisecond
	}
	if opts.Max <= 0 {
		opts.Max = 3 * time.Second
	}
	if opts.Jitter == "" {
		opts.Jitter = JitterFull
	}
	statusRetry := opts.StatusRetry
	if statusRetry == nil {
		statusRetry = DefaultStatusRetry
	}

	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, llm.Abort(err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if llm.IsAborted(err) {
			return zero, err
		}
		if attempt >= opts.MaxAttempts {
			return zero, err
		}
		if status, ok := errorStatus(err); ok && !statusRetry(status) {
			return zero, err
		}

		wait := backoff(opts.Base, opts.Max, attempt)
		hinted := false
		if hint, ok := errorRetryAfter(err); ok {
			if hint > wait {
				wait = hint
			}
			hinted = true // server hints are exact, no jitter
		}
		if !hinted && opts.Jitter == JitterFull {
			wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxTotal > 0 && time.Since(start)+wait > opts.MaxTotal {
			return zero, err
		}

		if opts.OnRetry != nil {
			opts.OnRetry(Attempt{Attempt: attempt, Wait: wait, Err: err})
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, llm.Abort(ctx.Err())
		case <-timer.C:
		}
	}
}

// backoff computes min(max, base * 2^(attempt-1)) without overflow for the
// attempt counts seen in practice.
func backoff(base, max time.Duration, attempt int) time.Duration {
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}
