package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	var waits []time.Duration
	calls := 0
	policy := RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond, Sleep: noSleep(&waits)}

	err := Retry(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, waits)
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	var waits []time.Duration
	calls := 0
	var retried []int
	policy := RetryPolicy{Attempts: 2, BaseDelay: time.Second, Sleep: noSleep(&waits)}

	err := Retry(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("temporary")
		}
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	var waits []time.Duration
	calls := 0
	policy := RetryPolicy{Attempts: 5, BaseDelay: time.Second, Sleep: noSleep(&waits)}
	root := errors.New("unknown instrument")

	err := Retry(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return Permanent(root)
	}, nil)

	assert.ErrorIs(t, err, root)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetry_ClassifierRejects(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Attempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}

	_ = Retry(context.Background(), policy, func(error) bool { return false }, func(ctx context.Context) error {
		calls++
		return errors.New("fatal")
	}, nil)

	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Hour}

	err := Retry(ctx, policy, nil, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSafeCall_RecoversPanic(t *testing.T) {
	err := SafeCall(func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}
