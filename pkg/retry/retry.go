// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// Options configures Do.
//
// MaxAttempts counts every call, so MaxAttempts=3 means one call plus two
// retries. The wait before retry n is InitialDelay*2^(n-1), capped at
// MaxDelay. No jitter is applied.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry is called with the failed attempt's error and its 1-based
	// attempt number, before waiting.
	OnRetry func(err error, attempt int)

	// Retryable decides whether err deserves another attempt.
	// Defaults to DefaultRetryable.
	Retryable func(err error) bool

	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions are the upload defaults: two retries, 1s then 2s.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// DefaultRetryable retries everything except validation and other
// permanent failures, and context cancellation.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errdefs.IsPermanent(err)
}

// Do invokes op until it succeeds, returns a non-retryable error or runs out
// of attempts. The last error is returned as is, never wrapped.
//
// If ctx is cancelled during a backoff wait, ctx.Err() is returned.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Retryable == nil {
		opts.Retryable = DefaultRetryable
	}

	// Sleep failures cancel the backoff wait through waitCtx.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(opts), uint64(opts.MaxAttempts-1)),
		waitCtx,
	)

	var timer *sleepTimer
	var t backoff.Timer
	if opts.Sleep != nil {
		timer = &sleepTimer{ctx: waitCtx, cancel: cancel, sleep: opts.Sleep}
		t = timer
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := op(ctx)
		if err != nil && !opts.Retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, _ time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, t)
	if err != nil {
		var zero T
		if timer != nil && timer.err != nil {
			return zero, timer.err
		}
		return zero, err
	}
	return result, nil
}

// newExponential builds a jitter-free doubling policy. A zero MaxDelay
// leaves the delay uncapped.
func newExponential(opts Options) *backoff.ExponentialBackOff {
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(opts.InitialDelay),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// sleepTimer adapts Options.Sleep to backoff.Timer. The wait happens in
// Start; C then fires immediately, or never when the sleep failed and the
// wait context was cancelled instead.
type sleepTimer struct {
	ctx    context.Context
	cancel context.CancelFunc
	sleep  func(ctx context.Context, d time.Duration) error

	c   chan time.Time
	err error
}

func (s *sleepTimer) Start(d time.Duration) {
	s.c = make(chan time.Time, 1)
	if err := s.sleep(s.ctx, d); err != nil {
		s.err = err
		s.cancel()
		return
	}
	s.c <- time.Now()
}

func (s *sleepTimer) Stop() {}

func (s *sleepTimer) C() <-chan time.Time { return s.c }
