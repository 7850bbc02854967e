// Package resilience keeps the dispatch path responsive when the worker
// queue degrades: a tripped breaker fails publishes fast instead of letting
// every plan advancement stall behind queue timeouts.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned in place of a publish attempt while the
// breaker is cooling down after repeated queue failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips after `threshold` consecutive publish failures and rejects
// calls for `cooldown`, then lets one trial call through. Its outcome
// decides whether the queue is trusted again.
type Breaker struct {
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time // for testing
}

// NewBreaker creates a breaker with the given consecutive-failure threshold
// and cooldown period. Both come from the nats config section.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute runs fn unless the breaker is open, and feeds the outcome back
// into the trip state.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

// admit reports whether a call may proceed, moving open to half-open once
// the cooldown has elapsed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
	}
	return true
}

// record updates the trip state from one call outcome. A half-open failure
// reopens immediately; a success anywhere closes and clears the count.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = stateClosed
		return
	}
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}
