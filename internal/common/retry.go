package common

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// RetryPolicy controls how many times an operation is retried and how long
// to wait between attempts. Attempts is the number of retries after the
// first call, so an operation runs at most Attempts+1 times.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns the wait before retry number attempt (1-based):
// base × 2^(attempt−1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt-1))
}

// Classifier reports whether err is worth retrying
type Classifier func(err error) bool

// PermanentError marks an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryAll treats every error except PermanentError and context errors as retryable.
func RetryAll(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Retry runs op until it succeeds, the classifier rejects the error, the
// retry budget is spent or ctx is cancelled. onRetry, if set, is called
// before each wait with the upcoming attempt number and delay.
func Retry(ctx context.Context, policy RetryPolicy, classify Classifier, op func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	if classify == nil {
		classify = RetryAll
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= policy.Attempts || !classify(err) || ctx.Err() != nil {
			return err
		}
		wait := policy.Backoff(attempt + 1)
		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

// SleepContext waits for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// SafeCall runs fn and converts a panic into an error carrying the stack.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
