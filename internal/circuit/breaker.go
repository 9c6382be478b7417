// Package circuit implements the two-state (closed/open) circuit breaker
// spec.md §4.5 names, grounded on other_examples' ag-ui resilience.go
// CircuitBreaker but with the half-open state dropped — spec.md has no
// probe-request phase, just a closed/open state with a hard reset timeout.
package circuit

import (
	"sync"
	"time"
)

// Breaker tracks consecutive failures and trips open once a threshold is
// reached, resetting to closed after a fixed timeout has elapsed since it
// tripped. All state transitions are guarded by a single mutex — the
// breaker is consulted on every send, so contention is kept cheap rather
// than lock-free.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	open                bool
	openedAt            time.Time
}

// New returns a Breaker that trips after threshold consecutive failures and
// resets resetTimeout after tripping.
func New(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{threshold: threshold, resetTimeout: resetTimeout}
}

// ResetIfElapsed is the timeout-driven transition from open back to closed
// (spec.md §4.5: "the replay loop is the authority that may reset the
// circuit — no other component resets the breaker"); RecordSuccess also
// closes an open breaker. It reports whether the breaker is closed after
// the call.
// Senders must use IsOpen, never this method, to decide whether to
// short-circuit a send.
func (b *Breaker) ResetIfElapsed(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if now.Sub(b.openedAt) >= b.resetTimeout {
		b.open = false
		b.consecutiveFailures = 0
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure count and closes the
// breaker if it was open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.open = false
}

// RecordFailure increments the consecutive-failure count and trips the
// breaker once it reaches the configured threshold.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if !b.open && b.consecutiveFailures >= b.threshold {
		b.open = true
		b.openedAt = now
	}
}

// IsOpen reports the breaker's current state without evaluating the reset
// timeout — this is what senders consult before calling the transport.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// ForceState is a hermetic test hook (spec.md §9) letting tests put the
// breaker directly into a known open/closed state without driving it
// through threshold failures.
func (b *Breaker) ForceState(open bool, openedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
	b.openedAt = openedAt
	if !open {
		b.consecutiveFailures = 0
	}
}
