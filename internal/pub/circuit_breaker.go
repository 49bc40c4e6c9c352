package pub

import (
	"sync"
	"time"
)

// circuitBreaker trips after threshold consecutive publish failures and
// half-opens once timeout has elapsed, letting a single probe through
// before closing again.
type circuitBreaker struct {
	mu              sync.Mutex
	failures        int
	successCount    int
	lastFailure     time.Time
	state           string
	threshold       int
	timeout         time.Duration
	successRequired int
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold:       threshold,
		timeout:         timeout,
		state:           "closed",
		successRequired: 1,
	}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "open":
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = "half-open"
			cb.successCount = 0
			return true
		}
		return false
	case "half-open":
		return true
	default:
		return true
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successCount++

	if cb.state == "half-open" && cb.successCount >= cb.successRequired {
		cb.state = "closed"
		cb.successCount = 0
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == "half-open" {
		cb.state = "open"
	} else if cb.failures >= cb.threshold {
		cb.state = "open"
	}
}

func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
