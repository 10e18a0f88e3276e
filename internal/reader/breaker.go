package reader

import (
	"errors"
	"sync"
	"time"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of an endpoint's circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures an endpoint circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of exhausted reads before the endpoint is skipped.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close again.
	SuccessThreshold int
	// Timeout is how long the endpoint is skipped before a trial read.
	Timeout time.Duration
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when an endpoint's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker tracks the health of one endpoint.
type Breaker struct {
	mu sync.Mutex

	config    BreakerConfig
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}
	return &Breaker{config: config, now: time.Now}
}

// Allow returns ErrCircuitOpen while the endpoint should be skipped.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			return ErrCircuitOpen
		}
		b.transitionTo(CircuitHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful read.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a read whose retries were exhausted.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transitionTo(next CircuitState) {
	prev := b.state
	b.state = next

	switch next {
	case CircuitClosed:
		b.failures = 0
		b.successes = 0
	case CircuitOpen:
		b.openedAt = b.now()
		b.successes = 0
	case CircuitHalfOpen:
		b.successes = 0
	}

	if b.config.OnStateChange != nil && prev != next {
		b.config.OnStateChange(prev, next)
	}
}
