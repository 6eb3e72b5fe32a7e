package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("404 not found"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ClassPermanent, Classify(errors.Unwrap(err)))
}

func TestRetryStopsOnAuthFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		return AuthFailure(errors.New("invalid api key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("503"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestRetryObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastRetryConfig(10), func(ctx context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("flaky"))
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClassifyDefaults(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(errors.New("plain")))
	assert.Equal(t, ClassTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassPermanent, Classify(context.Canceled))
	assert.Equal(t, ClassTimeout, Classify(Timeout(errors.New("slow"))))
}

func TestGuardedCallRespectsOpenBreaker(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Minute})
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	calls := 0
	err := GuardedCall(context.Background(), b, fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "no call may be issued through an open breaker")
}

func TestGuardedCallFeedsBreaker(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Minute})

	err := GuardedCall(context.Background(), b, fastRetryConfig(2), func(ctx context.Context) error {
		return Transient(errors.New("boom"))
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestGuardedCallCancelledProbeDoesNotWedge(t *testing.T) {
	b := NewBreaker("src", BreakerConfig{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: 10 * time.Millisecond})
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// The probe itself is cancelled mid-flight (a racing fetch losing to
	// a faster peer, or the investigation being cancelled).
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GuardedCall(ctx, b, fastRetryConfig(3), func(ctx context.Context) error {
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	// Cancellation neither opens nor closes, and the next caller may
	// probe again.
	assert.Equal(t, StateHalfOpen, b.State())
	err = GuardedCall(context.Background(), b, fastRetryConfig(1), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestFallbackChain(t *testing.T) {
	ops := []Op[string]{
		{Name: "primary", Run: func(ctx context.Context) (string, error) {
			return "", Transient(errors.New("down"))
		}},
		{Name: "secondary", Run: func(ctx context.Context) (string, error) {
			return "from-secondary", nil
		}},
		{Name: "tertiary", Run: func(ctx context.Context) (string, error) {
			t.Fatal("tertiary must not run after a success")
			return "", nil
		}},
	}

	res, err := Fallback(context.Background(), ops)
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", res.Value)
	assert.Equal(t, 1, res.Position)
	assert.Len(t, res.Skipped, 1)
}

func TestFallbackChainExhausted(t *testing.T) {
	ops := []Op[int]{
		{Name: "a", Run: func(ctx context.Context) (int, error) { return 0, errors.New("a failed") }},
		{Name: "b", Run: func(ctx context.Context) (int, error) { return 0, errors.New("b failed") }},
	}
	_, err := Fallback(context.Background(), ops)
	require.ErrorIs(t, err, ErrChainExhausted)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")
}
