package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay grows after each retry.
	Multiplier float64

	// Jitter randomizes the delay to avoid lock-step retries.
	Jitter bool
}

// DefaultRetryConfig returns the retry policy used for extraction and
// embedding collaborators.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// IndexIORetryConfig returns the tighter policy used for transient
// OS-level failures on the index's own files (e.g., an external scanner
// briefly holding a lock). Distinct from collaborator retries.
func IndexIORetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Backoff is an explicit bounded retry state machine: attempt count plus the
// next delay. Keeping the state out of the loop makes the policy testable
// without real timing.
type Backoff struct {
	cfg     RetryConfig
	attempt int
	delay   time.Duration
}

// NewBackoff creates a Backoff starting at the configured initial delay.
func NewBackoff(cfg RetryConfig) *Backoff {
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Attempt returns the number of attempts made so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Exhausted reports whether the retry budget is spent.
func (b *Backoff) Exhausted() bool {
	return b.attempt > b.cfg.MaxRetries
}

// Next records one failed attempt and returns the delay to wait before the
// next one. Returns false when no further attempt should be made.
func (b *Backoff) Next() (time.Duration, bool) {
	b.attempt++
	if b.attempt > b.cfg.MaxRetries {
		return 0, false
	}

	wait := b.delay
	if b.cfg.Jitter {
		// delay * (0.5 + rand(0, 0.5))
		wait = time.Duration(float64(b.delay) * (0.5 + rand.Float64()*0.5))
	}

	b.delay = time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}

	return wait, true
}

// Retry executes fn with bounded exponential backoff. Non-retryable
// DocdexErrors abort immediately; context cancellation aborts the wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	backoff := NewBackoff(cfg)
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Permanent failures are not worth another attempt.
		var de *DocdexError
		if As(err, &de) && !de.Retryable {
			return err
		}

		wait, ok := backoff.Next()
		if !ok {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryWithResult is Retry for functions returning a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
