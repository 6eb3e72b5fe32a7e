package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrorClass partitions failures for retry and breaker decisions.
type ErrorClass int

const (
	// ClassTransient covers network errors, 5xx and 429. Retried.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers 4xx (except 429) and malformed responses.
	// Not retried.
	ClassPermanent
	// ClassTimeout covers deadline expirations. Retried while attempts
	// remain.
	ClassTimeout
	// ClassAuth covers credential failures. Never retried.
	ClassAuth
)

// ClassifiedError carries an ErrorClass alongside the cause. Escalation
// across component boundaries always carries the classified cause,
// never a raw wire error.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure.
func Transient(err error) error { return &ClassifiedError{Class: ClassTransient, Err: err} }

// Permanent wraps err as a permanent failure.
func Permanent(err error) error { return &ClassifiedError{Class: ClassPermanent, Err: err} }

// Timeout wraps err as a timeout.
func Timeout(err error) error { return &ClassifiedError{Class: ClassTimeout, Err: err} }

// AuthFailure wraps err as an authentication failure.
func AuthFailure(err error) error { return &ClassifiedError{Class: ClassAuth, Err: err} }

// Classify returns the error's class. Unclassified errors default to
// transient so that plain network errors from adapters stay retryable;
// context expirations map to timeout/permanent regardless of wrapping.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	return ClassTransient
}

// Retryable reports whether an error class warrants another attempt.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassTimeout:
		return true
	default:
		return false
	}
}

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig: 3 attempts, 100ms initial, ×2 backoff capped at
// 5s, jittered.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Retry runs fn with bounded attempts and exponential backoff. Only
// transient classes are retried; permanent and auth failures return
// immediately. Context cancellation aborts between attempts and during
// backoff sleeps.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			// Full jitter on the upper half keeps retries spread out
			// without ever shrinking below half the nominal delay.
			sleep = delay/2 + time.Duration(rand.Int64N(int64(delay/2)+1))
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// GuardedCall runs fn behind the breaker with retry inside the gate.
// A rejected call returns ErrCircuitOpen without touching the network.
func GuardedCall(ctx context.Context, b *Breaker, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := Retry(ctx, cfg, fn)
	if err != nil {
		// Cancellation means the caller gave up, not that the source is
		// unhealthy; it must not count toward opening the breaker. The
		// probe slot still has to come back or a cancelled half-open
		// probe would wedge the breaker.
		if errors.Is(err, context.Canceled) {
			b.ReleaseProbe()
		} else {
			b.RecordFailure()
		}
		return err
	}
	b.RecordSuccess()
	return nil
}
