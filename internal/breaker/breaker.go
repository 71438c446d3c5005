// Package breaker implements a per-endpoint circuit breaker with three
// states, Closed/Open/HalfOpen, used by the Connection Manager (C1) to
// suppress connection attempts to a Home Assistant endpoint after repeated
// failures.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds the thresholds governing state transitions.
type Config struct {
	// FailureThreshold is the number of consecutive failures on a Closed
	// breaker that trips it to Open.
	FailureThreshold int
	// ResetTimeout is how long an Open breaker waits before allowing a
	// single HalfOpen probe attempt.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes on a
	// HalfOpen breaker required to close it.
	SuccessThreshold int
}

// Breaker tracks the state of one endpoint. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex
	cfg Config

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
}

// New returns a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current breaker state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a connection attempt should be made right now.
// It performs the Open→HalfOpen transition as a side effect when the reset
// timeout has elapsed, per spec: an Open breaker whose last failure is
// older than ResetTimeout moves to HalfOpen and allows exactly one probe.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		// The probe was already granted on the Open→HalfOpen transition;
		// every further Allow is denied until ReportSuccess reaches
		// SuccessThreshold (→Closed) or ReportFailure reopens the breaker.
		return false
	case Open:
		if now.Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			b.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return false
	}
}

// ReportSuccess records a successful operation against the endpoint.
func (b *Breaker) ReportSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0

	switch b.state {
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccesses = 0
		}
	case Open:
		// A success while Open (should not normally happen outside the
		// HalfOpen probe window) is ignored; only the probe path closes
		// the breaker.
	}
}

// ForceOpen trips the breaker directly, bypassing the failure threshold.
// Used for permanent, non-retriable failures such as an auth rejection.
func (b *Breaker) ForceOpen(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = now
	b.consecutiveSuccesses = 0
	b.consecutiveFailures = 0
	b.state = Open
}

// ReportFailure records a failed operation against the endpoint.
func (b *Breaker) ReportFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = now
	b.consecutiveSuccesses = 0

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		// Failed probe: back to Open, wait out the timeout again.
		b.state = Open
		b.consecutiveFailures = 0
	}
}

// Snapshot is a point-in-time view of a breaker's counters, used for
// status reporting and metrics gauges.
type Snapshot struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailureAt        time.Time
}

// Snapshot returns the current counters without mutating state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureAt:        b.lastFailureAt,
	}
}
