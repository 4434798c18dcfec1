// Package circuit implements the circuit-breaker state machine the RPC
// adapter wraps its calls in. The state machine
// shape — closed/open/half_open, trip/reset callbacks, a cooldown before
// probing recovery — is the reference's trading circuit breaker, retargeted
// from PnL-loss thresholds to RPC-call failure thresholds.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Config holds circuit breaker thresholds for a wrapped transport.
type Config struct {
	MaxConsecutiveFailures int
	FailureWindow          time.Duration
	MaxFailuresInWindow    int
	CooldownDuration       time.Duration
}

// DefaultConfig returns thresholds suited to wrapping a single RPC
// endpoint: five consecutive failures, or ten within a minute, trips a
// thirty-second cooldown before probing recovery.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		FailureWindow:          time.Minute,
		MaxFailuresInWindow:    10,
		CooldownDuration:       30 * time.Second,
	}
}

// Breaker wraps a transport-failure-prone capability (the RPC adapter's
// calls) with trip/reset callback hooks.
type Breaker struct {
	config Config

	mu                  sync.RWMutex
	state               BreakerState
	consecutiveFailures int
	failureTimestamps   []time.Time
	lastTripTime        time.Time
	tripReason          string

	onTrip  func(reason string)
	onReset func()
}

// New creates a circuit breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{config: cfg, state: StateClosed}
}

// OnTrip registers a callback invoked (in its own goroutine) when the
// breaker transitions to open.
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset registers a callback invoked when the breaker closes again.
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a call should be attempted. An open breaker past
// its cooldown transitions to half-open; while half-open every call is
// allowed through until a recorded success or failure changes the state.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastTripTime) < b.config.CooldownDuration {
			remaining := b.config.CooldownDuration - time.Since(b.lastTripTime)
			return false, fmt.Sprintf("circuit open, cooldown remaining %s (reason: %s)", remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}
	return true, ""
}

// RecordSuccess reports a successful call. In the half-open state this
// closes the breaker; otherwise it resets the consecutive-failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasHalfOpen := b.state == StateHalfOpen
	b.state = StateClosed
	b.consecutiveFailures = 0
	onReset := b.onReset
	b.mu.Unlock()

	if wasHalfOpen && onReset != nil {
		go onReset()
	}
}

// RecordFailure reports a failed call and trips the breaker if either
// threshold is exceeded.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	now := time.Now()
	b.consecutiveFailures++
	b.failureTimestamps = append(b.failureTimestamps, now)
	cutoff := now.Add(-b.config.FailureWindow)
	kept := b.failureTimestamps[:0]
	for _, ts := range b.failureTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failureTimestamps = kept

	var reason string
	if b.consecutiveFailures >= b.config.MaxConsecutiveFailures {
		reason = fmt.Sprintf("consecutive failures: %d", b.consecutiveFailures)
	} else if len(b.failureTimestamps) >= b.config.MaxFailuresInWindow {
		reason = fmt.Sprintf("failures in window: %d/%s", len(b.failureTimestamps), b.config.FailureWindow)
	}

	var onTrip func(string)
	if reason != "" && b.state != StateOpen {
		b.state = StateOpen
		b.lastTripTime = now
		b.tripReason = reason
		onTrip = b.onTrip
	}
	b.mu.Unlock()

	if onTrip != nil {
		go onTrip(reason)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats summarizes the breaker for health/metrics endpoints.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]interface{}{
		"state":                b.state,
		"consecutive_failures": b.consecutiveFailures,
		"failures_in_window":   len(b.failureTimestamps),
		"trip_reason":          b.tripReason,
		"last_trip_time":       b.lastTripTime,
	}
}

// ForceReset manually closes the breaker, e.g. for operator intervention.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.failureTimestamps = nil
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}
