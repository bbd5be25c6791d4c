package httpclient

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
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

// CircuitBreaker implements the circuit breaker pattern for one host.
// Consecutive failures open the circuit; after the reset timeout a limited
// number of probe requests decide whether it closes again.
type CircuitBreaker struct {
	threshold   int
	timeout     time.Duration
	halfOpenMax int

	mu              sync.RWMutex
	state           CircuitState
	failures        int
	halfOpenCount   int
	lastFailureTime time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
}

// NewCircuitBreaker creates a circuit breaker with the given parameters.
// Non-positive parameters fall back to the package defaults.
func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if timeout <= 0 {
		timeout = DefaultCircuitTimeout
	}
	if halfOpenMax <= 0 {
		halfOpenMax = DefaultCircuitHalfOpenMax
	}
	return &CircuitBreaker{
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
		state:       CircuitClosed,
	}
}

// Allow returns true if the request should be allowed to proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request. A success while half-open
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalSuccesses++

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
	cb.failures = 0
}

// RecordFailure records a failed request. Reaching the threshold, or any
// failure while half-open, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()
	cb.totalRequests++
	cb.totalFailures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.halfOpenCount = 0
}

// BreakerStats is a point-in-time view of one host circuit.
type BreakerStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// Stats returns current statistics for this circuit breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerStats{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		TotalRequests:       cb.totalRequests,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		LastFailure:         cb.lastFailureTime,
	}
}

// hostBreakers lazily creates one circuit breaker per origin host, all
// sharing the same thresholds.
type hostBreakers struct {
	threshold   int
	timeout     time.Duration
	halfOpenMax int

	mu     sync.RWMutex
	byHost map[string]*CircuitBreaker
}

func newHostBreakers(threshold int, timeout time.Duration, halfOpenMax int) *hostBreakers {
	return &hostBreakers{
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
		byHost:      make(map[string]*CircuitBreaker),
	}
}

func (h *hostBreakers) forHost(host string) *CircuitBreaker {
	h.mu.RLock()
	cb, ok := h.byHost[host]
	h.mu.RUnlock()
	if ok {
		return cb
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.byHost[host]; ok {
		return cb
	}
	cb = NewCircuitBreaker(h.threshold, h.timeout, h.halfOpenMax)
	h.byHost[host] = cb
	return cb
}

func (h *hostBreakers) snapshot() map[string]BreakerStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]BreakerStats, len(h.byHost))
	for host, cb := range h.byHost {
		out[host] = cb.Stats()
	}
	return out
}

func (h *hostBreakers) resetAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cb := range h.byHost {
		cb.Reset()
	}
}
