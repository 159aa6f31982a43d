package redis

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is rejecting writes.
var ErrBreakerOpen = errors.New("redis: breaker open")

// State of the write breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < StateClosed || s > StateHalfOpen {
		return "unknown"
	}
	return stateNames[s]
}

// Breaker shields the hot path from a flapping Redis. After trip
// consecutive failures it opens and rejects writes outright; once
// cooldown has passed, exactly one probe write is let through. The
// probe closes the breaker on success and re-opens it on failure.
// Writes arriving while the probe is in flight are rejected rather
// than queued behind a connection that is probably still dead.
type Breaker struct {
	trip     int
	cooldown time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	// OnStateChange, if set, fires on every transition. Called with
	// the breaker lock held; do not call back into the breaker.
	OnStateChange func(from, to State)
}

// NewBreaker creates a breaker that opens after trip consecutive
// failures and probes again after cooldown.
func NewBreaker(trip int, cooldown time.Duration) *Breaker {
	if trip < 1 {
		trip = 1
	}
	return &Breaker{trip: trip, cooldown: cooldown}
}

// Do runs fn unless the breaker is rejecting writes.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.set(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.trip {
			b.openedAt = time.Now()
			b.set(StateOpen)
		}
		return err
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.set(StateClosed)
	}
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) set(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	log.Printf("[redis] breaker %s -> %s", from, to)
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
