package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a circuit breaker rejects a call outright.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means requests flow through normally.
	StateClosed CircuitBreakerState = iota
	// StateOpen means requests are rejected until the cooldown elapses.
	StateOpen
	// StateHalfOpen means a limited number of probe requests are allowed.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker shields an outbound dependency from sustained failure.
// After maxFailures consecutive errors the circuit opens; once the cooldown
// elapses it half-opens and lets probes through until enough succeed.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeQuota  int

	mu          sync.RWMutex
	state       CircuitBreakerState
	failures    int
	probes      int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       StateClosed,
		probeQuota:  3,
	}
}

// Call executes fn under circuit breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.probes = 0
	}

	if !cb.allow() {
		RecordCircuitBreakerStatus(cb.name, "call", int(cb.state))
		return fmt.Errorf("%s is %s: %w", cb.name, cb.state, ErrCircuitOpen)
	}

	err := fn()
	cb.record(err)
	RecordCircuitBreakerStatus(cb.name, "call", int(cb.state))
	return err
}

func (cb *CircuitBreaker) allow() bool {
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.probes < cb.probeQuota
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.probeQuota {
			cb.state = StateClosed
			cb.probes = 0
			cb.failures = 0
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
}

type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

var registry = &breakerRegistry{breakers: make(map[string]*CircuitBreaker)}

// GetCircuitBreaker returns the named breaker, creating it on first use.
func GetCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if cb, ok := registry.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, maxFailures, cooldown)
	registry.breakers[name] = cb
	return cb
}

// ResetAllCircuitBreakers closes every registered breaker.
func ResetAllCircuitBreakers() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, cb := range registry.breakers {
		cb.Reset()
	}
}
