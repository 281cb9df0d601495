// Package observability provides circuit breaker implementation for external connections.
package observability

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	// StateClosed indicates the circuit is closed and operations are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen indicates the circuit is open and operations are blocked for a timeout period.
	StateOpen
	// StateHalfOpen indicates a trial state where limited operations are allowed to test recovery.
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

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	mu sync.RWMutex

	// name identifies the guarded collaborator (e.g. a GPU provider) in logs
	// and stats; empty for a standalone breaker not tracked by a manager.
	name string

	// Configuration
	maxFailures      int
	timeout          time.Duration
	successThreshold float64

	// State
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	// Metrics
	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	stateChanges   int64
}

// NewCircuitBreaker creates a new, unnamed circuit breaker.
func NewCircuitBreaker(maxFailures int, timeout time.Duration, successThreshold float64) *CircuitBreaker {
	return NewNamedCircuitBreaker("", maxFailures, timeout, successThreshold)
}

// NewNamedCircuitBreaker creates a circuit breaker tagged with the identity of
// the collaborator it guards, so its log lines and stats are attributable
// when several breakers run side by side (CircuitBreakerManager).
func NewNamedCircuitBreaker(name string, maxFailures int, timeout time.Duration, successThreshold float64) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		successThreshold: successThreshold,
		state:            StateClosed,
	}
}

// CanExecute returns true if the circuit breaker allows execution
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		// Check if timeout has passed
		if time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.mu.RUnlock()
			cb.mu.Lock()
			cb.state = StateHalfOpen
			cb.failureCount = 0
			cb.successCount = 0
			cb.stateChanges++
			cb.mu.Unlock()
			cb.mu.RLock()

			slog.Info("circuit breaker transitioning to half-open",
				slog.String("name", cb.name),
				slog.Duration("timeout", cb.timeout),
				slog.Time("last_failure", cb.lastFailureTime))

			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalSuccesses++
	cb.successCount++

	if cb.state == StateHalfOpen {
		// Check if we have enough successes to close the circuit
		if cb.successCount >= int(float64(cb.successCount+cb.failureCount)*cb.successThreshold) {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.stateChanges++

			slog.Info("circuit breaker closed due to success threshold",
				slog.String("name", cb.name),
				slog.Int("success_count", cb.successCount),
				slog.Float64("success_threshold", cb.successThreshold))
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		// Check if we should open the circuit
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
			cb.stateChanges++

			slog.Warn("circuit breaker opened due to failure threshold",
				slog.String("name", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("max_failures", cb.maxFailures))
		}
	case StateHalfOpen:
		// Any failure in half-open state opens the circuit
		cb.state = StateOpen
		cb.stateChanges++

		slog.Warn("circuit breaker opened due to failure in half-open state",
			slog.String("name", cb.name),
			slog.Int("failure_count", cb.failureCount))
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	successRate := float64(0)
	if cb.totalRequests > 0 {
		successRate = float64(cb.totalSuccesses) / float64(cb.totalRequests) * 100
	}

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"max_failures":      cb.maxFailures,
		"timeout":           cb.timeout.String(),
		"success_threshold": cb.successThreshold,
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"total_requests":    cb.totalRequests,
		"total_failures":    cb.totalFailures,
		"total_successes":   cb.totalSuccesses,
		"success_rate":      successRate,
		"state_changes":     cb.stateChanges,
		"last_failure":      cb.lastFailureTime.Format(time.RFC3339),
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.stateChanges = 0
	cb.lastFailureTime = time.Time{}

	slog.Info("circuit breaker reset to closed state", slog.String("name", cb.name))
}

// CircuitBreakerManager keeps one CircuitBreaker per GPU provider name so that
// a failing provider trips independently of its siblings (§4.6, §4.7).
type CircuitBreakerManager struct {
	mu            sync.RWMutex
	breakers      map[string]*CircuitBreaker
	maxFailures   int
	timeout       time.Duration
	successThresh float64
}

// NewCircuitBreakerManager creates a manager that lazily builds a breaker per
// provider name using the same failure threshold, cooldown, and half-open
// success threshold for every provider.
func NewCircuitBreakerManager(maxFailures int, timeout time.Duration, successThreshold float64) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:      make(map[string]*CircuitBreaker),
		maxFailures:   maxFailures,
		timeout:       timeout,
		successThresh: successThreshold,
	}
}

// Breaker returns the breaker for the named provider, creating it on first use.
func (m *CircuitBreakerManager) Breaker(provider string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[provider]; ok {
		return cb
	}
	cb = NewNamedCircuitBreaker(provider, m.maxFailures, m.timeout, m.successThresh)
	m.breakers[provider] = cb
	return cb
}

// States returns every tracked provider's current state, for readiness checks
// and the C10 circuit-state gauge.
func (m *CircuitBreakerManager) States() map[string]CircuitBreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CircuitBreakerState, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetState()
	}
	return out
}

// HealthyProviders returns every provider whose breaker is not open.
func (m *CircuitBreakerManager) HealthyProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var healthy []string
	for name, cb := range m.breakers {
		if cb.GetState() != StateOpen {
			healthy = append(healthy, name)
		}
	}
	return healthy
}
