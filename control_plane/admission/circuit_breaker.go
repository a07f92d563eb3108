package admission

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitHalfOpen                     // Testing recovery
	CircuitOpen                         // Rejecting new submissions
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker sheds submissions when too many orchestrations are in flight.
type CircuitBreaker struct {
	state CircuitState
	mu    sync.RWMutex

	inFlightThreshold int
	cooldownPeriod    time.Duration

	openedAt  time.Time
	testCount int // admissions granted while half-open
	testLimit int // successes needed to close

	now func() time.Time
}

// NewCircuitBreaker creates a breaker that admits at most inFlightThreshold
// concurrent submissions.
func NewCircuitBreaker(inFlightThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		state:             CircuitClosed,
		inFlightThreshold: inFlightThreshold,
		cooldownPeriod:    30 * time.Second,
		testLimit:         5,
		now:               time.Now,
	}
}

// ShouldAdmit reports whether one more submission may start while inFlight
// are already running. It opens the circuit when that would exceed the
// threshold.
func (cb *CircuitBreaker) ShouldAdmit(inFlight int) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) > cb.cooldownPeriod {
		cb.state = CircuitHalfOpen
		cb.testCount = 0
	}

	if cb.state == CircuitHalfOpen {
		if cb.testCount < cb.testLimit {
			cb.testCount++
			return true
		}
		if inFlight < cb.inFlightThreshold/2 {
			cb.state = CircuitClosed
			return true
		}
		return false
	}

	if inFlight >= cb.inFlightThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		return false
	}

	return cb.state == CircuitClosed
}

// RecordSuccess closes a half-open circuit once enough test traffic succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.testCount >= cb.testLimit {
		cb.state = CircuitClosed
	}
}

// RecordFailure re-opens a half-open circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		cb.testCount = 0
	}
}

// GetState returns the current circuit state (thread-safe).
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
