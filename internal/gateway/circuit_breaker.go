package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses calls. Callers
// treat it as transient and retry later.
var ErrCircuitOpen = errors.New("payment gateway circuit open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds breaker tuning
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration

	// SuccessThreshold is the consecutive-success count in half-open
	// state that closes the circuit again
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns default breaker tuning
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker guards the gateway against a failing provider.
// Closed passes calls through and counts consecutive failures; open
// rejects immediately until OpenTimeout elapses; half-open admits one
// probe at a time until SuccessThreshold probes succeed.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu        sync.Mutex
	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Allow reports whether a call may proceed. Every allowed call must be
// balanced with RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.config.OpenTimeout {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
		b.successes = 0
		b.probing = true
		return nil
	default: // half-open: one probe in flight at a time
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess reports a successful call
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		b.failures = 0
	case stateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = stateClosed
			b.failures = 0
		}
	}
}

// RecordFailure reports a failed call
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	case stateHalfOpen:
		b.probing = false
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.state = stateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}

// State returns the current state name, for logging and health checks
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
