// Package breaker implements a rolling-window circuit breaker guarding a
// single provider slot. Only soft (server/transport) failures count toward
// opening the circuit; hard client errors are ignored.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker state machine position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns a human-readable label for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Class labels a failure for breaker accounting.
type Class int

const (
	// Soft failures (5xx, timeouts, transport) count toward opening.
	Soft Class = iota
	// Hard failures are client-caused and never trip the breaker.
	Hard
)

// Config tunes one breaker. Zero fields fall back to the defaults
// (threshold 5, cooldown 5s, window 10s).
type Config struct {
	Threshold int
	Cooldown  time.Duration
	Window    time.Duration
	// Classify maps an error to Soft or Hard. Nil treats everything as Soft.
	Classify func(error) Class
	// OnStateChange is invoked (with the breaker's lock released) whenever
	// the state transitions.
	OnStateChange func(from, to State)
}

// Breaker is a closed/open/half-open circuit over a rolling failure window.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures []time.Time // soft failures within the window
	nextTry  time.Time   // probe time while open
}

// New creates a breaker with defaults applied.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// CanPass reports whether a call may proceed. While open it returns false
// until the cooldown elapses, then transitions to half-open and admits a
// single probe.
func (b *Breaker) CanPass() bool {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Now().Before(b.nextTry) {
			return false
		}
		change = b.transition(HalfOpen)
		return true
	}
	return true
}

// Success records a successful call. In half-open it closes the circuit and
// clears the failure window.
func (b *Breaker) Success() {
	b.mu.Lock()
	var change func()
	if b.state == HalfOpen {
		b.failures = b.failures[:0]
		change = b.transition(Closed)
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// Fail records a failed call. Hard-classified errors are a no-op. A soft
// failure in half-open re-opens immediately; in closed it opens once the
// rolling window reaches the threshold.
func (b *Breaker) Fail(err error) {
	if b.cfg.Classify != nil && b.cfg.Classify(err) == Hard {
		return
	}

	b.mu.Lock()
	var change func()
	now := time.Now()

	if b.state == HalfOpen {
		b.nextTry = now.Add(b.cfg.Cooldown)
		change = b.transition(Open)
		b.mu.Unlock()
		if change != nil {
			change()
		}
		return
	}

	b.failures = append(b.failures, now)
	b.prune(now)
	if b.state == Closed && len(b.failures) >= b.cfg.Threshold {
		b.nextTry = now.Add(b.cfg.Cooldown)
		change = b.transition(Open)
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// prune drops window entries older than now - window. Caller holds the lock.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

// transition flips the state and returns the deferred change notification.
// Caller holds the lock and must invoke the returned func after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange == nil || from == to {
		return nil
	}
	cb := b.cfg.OnStateChange
	return func() { cb(from, to) }
}
