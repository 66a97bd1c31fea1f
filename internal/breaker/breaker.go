// Package breaker implements the three-state circuit breaker that drives
// write routing between the remote queue and the durable store.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a process-scoped singleton; callers share one instance across
// the write handler and the recovery manager.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failureCount int

	threshold int
	cooldown  time.Duration
	timer     *time.Timer

	log zerolog.Logger
}

// New returns a Breaker in the Closed state.
func New(threshold int, cooldown time.Duration, log zerolog.Logger) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, log: log}
}

// Get returns the current state. Any transition is visible to the next Get
// before the triggering method returns.
func (b *Breaker) Get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordSuccess resets the failure count in Closed, or closes the breaker
// from HalfOpen.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.cancelTimerLocked()
		b.setStateLocked(Closed)
		b.failureCount = 0
	}
}

// RecordFailure increments the failure count in Closed, opening the breaker
// at threshold; a failed probe in HalfOpen reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.openLocked()
		}
	case HalfOpen:
		b.openLocked()
	}
}

// TransitionToHalfOpen forces a HalfOpen probe, bypassing the cooldown
// timer. Used when the failover detector announces a new master or the
// transport reports readiness.
func (b *Breaker) TransitionToHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.failureCount = 0
	b.setStateLocked(HalfOpen)
}

// Reset returns the breaker to Closed(0) and cancels any pending timer.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.failureCount = 0
	b.setStateLocked(Closed)
}

func (b *Breaker) openLocked() {
	b.setStateLocked(Open)
	b.cancelTimerLocked()
	b.timer = time.AfterFunc(b.cooldown, b.onCooldown)
}

// onCooldown runs on its own goroutine; it must reacquire the lock rather
// than assume it's already held.
func (b *Breaker) onCooldown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		b.setStateLocked(HalfOpen)
	}
}

func (b *Breaker) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Breaker) setStateLocked(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("circuit breaker transition")
}
