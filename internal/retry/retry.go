// Package retry provides bounded exponential backoff for calls to external
// services that signal transient capacity limits (quota or rate errors).
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted is matched by every error returned after all attempts failed
// with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration // 0 means uncapped
	BackoffFactor  float64
	JitterFraction float64 // 0.0 to 1.0, fraction of delay to randomize
}

// DefaultExtractionConfig is tuned for per-minute quotas on the extraction service.
var DefaultExtractionConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  60 * time.Second,
	BackoffFactor: 2.0,
}

// DefaultLedgerConfig is tuned for spreadsheet API per-user rate limits.
var DefaultLedgerConfig = Config{
	MaxAttempts:    5,
	InitialDelay:   10 * time.Second,
	MaxDelay:       2 * time.Minute,
	BackoffFactor:  2.0,
	JitterFraction: 0.2,
}

// Classifier reports whether err is a transient capacity error worth retrying.
type Classifier func(err error) bool

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Retrier runs calls under one retry policy.
type Retrier struct {
	cfg       Config
	retryable Classifier
	sleep     Sleeper
	rand      func() float64
}

// New creates a Retrier. Only errors for which retryable returns true are retried.
func New(cfg Config, retryable Classifier) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1
	}
	return &Retrier{
		cfg:       cfg,
		retryable: retryable,
		sleep:     sleepContext,
		rand:      rand.Float64,
	}
}

// WithSleeper replaces the sleep function, mainly for tests.
func (r *Retrier) WithSleeper(s Sleeper) *Retrier {
	r.sleep = s
	return r
}

// Config returns the retry policy.
func (r *Retrier) Config() Config {
	return r.cfg
}

// Do executes fn until it succeeds, fails with a non-retryable error, the
// context is cancelled, or attempts are exhausted. Sleeps happen only between
// attempts.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if r.retryable == nil || !r.retryable(err) {
			return zero, err
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		slog.Warn("quota error, backing off",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Op: op, Attempts: r.cfg.MaxAttempts, Last: lastErr}
}

// Call is Do for functions without a result.
func Call(ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// delay returns the wait after the given (1-based) failed attempt.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.BackoffFactor, float64(attempt-1))
	if r.cfg.MaxDelay > 0 && d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}

	if r.cfg.JitterFraction > 0 {
		d += d * r.cfg.JitterFraction * (r.rand()*2 - 1)
		if d < 0 {
			d = float64(r.cfg.InitialDelay)
		}
	}

	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
