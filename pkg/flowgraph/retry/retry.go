// Package retry re-runs failing node executions with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff. Zero means no cap.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable optionally overrides the default retryability check.
	Retryable func(error) bool
}

// Default retries twice with a short backoff.
var Default = Policy{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// None disables retries.
var None = Policy{MaxAttempts: 1}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) Option {
	return func(p *Policy) {
		p.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) Option {
	return func(p *Policy) {
		p.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) Option {
	return func(p *Policy) {
		p.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(p *Policy) {
		p.Jitter = j
	}
}

// WithRetryable sets a custom retryability check.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.Retryable = fn
	}
}

// NewPolicy creates a policy from Default with the given options.
func NewPolicy(opts ...Option) Policy {
	p := Default
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying. errors.Is and errors.As still
// see the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Result describes a finished Do call.
type Result struct {
	// Attempts is the number of times fn ran.
	Attempts int
	// Duration is the total time spent, including backoff.
	Duration time.Duration
	// Err is nil on success. A permanent error or context error is returned
	// as is; exhausted retries return *ExhaustedError.
	Err error
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx ends. attempt starts at 1.
//
// By default every error is retryable except those marked with Permanent
// and context cancellation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) Result {
	start := time.Now()
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	isRetryable := p.Retryable
	if isRetryable == nil {
		isRetryable = defaultRetryable
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Duration: time.Since(start), Err: err}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return Result{Attempts: attempt, Duration: time.Since(start)}
		}
		lastErr = err

		if IsPermanent(err) || !isRetryable(err) {
			return Result{Attempts: attempt, Duration: time.Since(start), Err: err}
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(jittered(backoff, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Attempts: attempt, Duration: time.Since(start), Err: ctx.Err()}
		case <-timer.C:
		}

		if p.BackoffFactor > 0 {
			backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		}
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	if maxAttempts == 1 {
		return Result{Attempts: 1, Duration: time.Since(start), Err: lastErr}
	}
	return Result{
		Attempts: maxAttempts,
		Duration: time.Since(start),
		Err:      &ExhaustedError{Attempts: maxAttempts, Err: lastErr},
	}
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// jittered returns base +/- (base * jitter * random).
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}
