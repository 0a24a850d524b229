// Package ratelimit throttles outbound calls to the extraction service.
//
// Limiters only ever delay a call; they never drop one.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is called immediately before (WaitIfNeeded) and immediately after
// (RecordCall) every rate-limited call.
type Limiter interface {
	WaitIfNeeded(ctx context.Context) error
	RecordCall()
}

// Policy names accepted by New.
const (
	PolicySlidingWindow = "sliding_window"
	PolicyFixedInterval = "fixed_interval"
)

// Config selects and parameterises a limiter.
type Config struct {
	Policy      string
	MaxCalls    int           // sliding_window: calls allowed per window
	Window      time.Duration // sliding_window: defaults to one minute
	MinInterval time.Duration // fixed_interval: minimum gap between calls
}

// New builds the limiter described by cfg.
func New(cfg Config) (Limiter, error) {
	switch cfg.Policy {
	case PolicySlidingWindow, "":
		if cfg.MaxCalls <= 0 {
			return nil, fmt.Errorf("sliding window limiter requires max_calls > 0")
		}
		return NewSlidingWindow(cfg.MaxCalls, cfg.Window), nil
	case PolicyFixedInterval:
		if cfg.MinInterval <= 0 {
			return nil, fmt.Errorf("fixed interval limiter requires min_interval > 0")
		}
		return NewFixedInterval(cfg.MinInterval), nil
	default:
		return nil, fmt.Errorf("unknown rate limit policy %q", cfg.Policy)
	}
}

// SlidingWindow permits at most maxCalls in any trailing window.
type SlidingWindow struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindow creates a sliding-window limiter. A zero window means one minute.
func NewSlidingWindow(maxCalls int, window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WaitIfNeeded blocks until one more call fits in the trailing window.
func (l *SlidingWindow) WaitIfNeeded(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.mu.Unlock()
			return nil
		}
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		slog.Info("rate limit reached, waiting",
			"calls", l.maxCalls,
			"window", l.window,
			"wait", wait,
		)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RecordCall marks that a call was just issued.
func (l *SlidingWindow) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, l.now())
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
}

// FixedInterval enforces a minimum gap between consecutive calls.
type FixedInterval struct {
	limiter *rate.Limiter
}

// NewFixedInterval creates a limiter allowing one call per interval.
func NewFixedInterval(interval time.Duration) *FixedInterval {
	return &FixedInterval{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// WaitIfNeeded sleeps for whatever remains of the interval since the last call.
func (l *FixedInterval) WaitIfNeeded(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RecordCall is a no-op: the token taken in WaitIfNeeded already marks the call.
func (l *FixedInterval) RecordCall() {}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
