// Package resilience provides the composable fault-handling primitives
// used in front of every external source: circuit breaker, retry policy
// and fallback chain. A guarded call is breaker-gated, retry-wrapped and
// sits inside a fallback position.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// issuing it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the breaker once this many failures are
	// observed within FailureWindow.
	FailureThreshold int
	FailureWindow    time.Duration
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig mirrors the documented defaults: 5 failures in
// 60s opens; 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a per-source circuit breaker.
//
// closed → open on FailureThreshold failures within FailureWindow;
// open → half_open after Cooldown; half_open → closed on one success,
// → open on any failure. Half-open probes are single-in-flight.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	probeInFlight bool
	lastFailureAt time.Time
	failureCount  int
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// SetClock overrides the breaker's clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// State returns the current state, applying the open→half_open
// time-based transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.probeInFlight = false
		slog.Debug("Circuit breaker entering half-open", "breaker", b.name)
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open state only a
// single probe is admitted; the caller must follow up with
// RecordSuccess or RecordFailure to release it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = nil
		b.failureCount = 0
		b.probeInFlight = false
		slog.Info("Circuit breaker closed after successful probe", "breaker", b.name)
	case StateClosed:
		// Successes do not reset the failure window; only time does.
	}
}

// ReleaseProbe frees the half-open probe slot without recording an
// outcome. Used when a probe is abandoned (caller cancellation): the
// source's health is still unknown, so the state must not move, but the
// next caller has to be able to probe.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// RecordFailure records a failed call and applies the state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureAt = now
	b.failureCount++

	switch b.stateLocked() {
	case StateHalfOpen:
		b.trip(now)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = nil
	b.probeInFlight = false
	slog.Warn("Circuit breaker opened", "breaker", b.name, "cooldown", b.cfg.Cooldown)
}

// pruneLocked drops failures outside the sliding window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// Health is a point-in-time snapshot for the registry and /health.
type Health struct {
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Health returns the breaker's health snapshot.
func (b *Breaker) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := Health{
		State:        b.stateLocked(),
		FailureCount: b.failureCount,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		h.LastFailureAt = &t
	}
	return h
}
