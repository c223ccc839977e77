package pds

import (
	"fmt"
	"log"
	"sync"
	"time"

	"Courier/internal/clock"
)

// circuitState represents the state of a circuit breaker
type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Host is failing, calls short-circuit
	stateHalfOpen                     // One trial call allowed through
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker tracks consecutive network failures per PDS host so an
// unreachable server fails fast instead of stalling every send
type circuitBreaker struct {
	clock            clock.Clock
	failures         map[string]int
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	lastStateLog     map[string]time.Time
	failureThreshold int
	openDuration     time.Duration
	mu               sync.Mutex
}

// newCircuitBreaker creates a circuit breaker with default settings
func newCircuitBreaker(clk clock.Clock) *circuitBreaker {
	if clk == nil {
		clk = clock.Real()
	}
	return &circuitBreaker{
		clock:            clk,
		failureThreshold: 3,                // Open after 3 consecutive failures
		openDuration:     30 * time.Second, // Then refuse calls for 30 seconds
		failures:         make(map[string]int),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
		lastStateLog:     make(map[string]time.Time),
	}
}

// canAttempt reports whether a call to host may proceed.
// An open circuit moves to half-open once openDuration has elapsed.
func (cb *circuitBreaker) canAttempt(host string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.getState(host) != stateOpen {
		return nil
	}

	lastFail := cb.lastFailure[host]
	if cb.clock.Now().Sub(lastFail) > cb.openDuration {
		cb.state[host] = stateHalfOpen
		cb.logStateChange(host, stateHalfOpen)
		return nil
	}

	return fmt.Errorf("%w for host '%s' (failures: %d, next retry: %s)",
		ErrCircuitOpen,
		host,
		cb.failures[host],
		lastFail.Add(cb.openDuration).Format("15:04:05"),
	)
}

// recordSuccess resets the failure count for host
func (cb *circuitBreaker) recordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.getState(host)

	delete(cb.failures, host)
	delete(cb.lastFailure, host)
	cb.state[host] = stateClosed

	if oldState != stateClosed {
		cb.logStateChange(host, stateClosed)
	}
}

// recordFailure counts a network failure against host
func (cb *circuitBreaker) recordFailure(host string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[host]++
	cb.lastFailure[host] = cb.clock.Now()
	failCount := cb.failures[host]

	// A failed trial call reopens immediately
	if failCount >= cb.failureThreshold || cb.getState(host) == stateHalfOpen {
		oldState := cb.getState(host)
		cb.state[host] = stateOpen
		if oldState != stateOpen {
			log.Printf("[PDS-CIRCUIT] Opening circuit for host '%s' after %d consecutive failures. Last error: %v",
				host, failCount, err)
			cb.lastStateLog[host] = cb.clock.Now()
		}
		return
	}

	log.Printf("[PDS-CIRCUIT] Failure %d/%d for host '%s': %v", failCount, cb.failureThreshold, host, err)
}

// stateOf returns the current state of host
func (cb *circuitBreaker) stateOf(host string) circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.getState(host)
}

// getState returns the current state (must be called with lock held)
func (cb *circuitBreaker) getState(host string) circuitState {
	if state, exists := cb.state[host]; exists {
		return state
	}
	return stateClosed
}

// logStateChange logs state transitions (must be called with lock held).
// At most once per minute per host.
func (cb *circuitBreaker) logStateChange(host string, newState circuitState) {
	now := cb.clock.Now()
	if lastLog, exists := cb.lastStateLog[host]; exists && now.Sub(lastLog) < time.Minute {
		return
	}
	log.Printf("[PDS-CIRCUIT] Circuit for host '%s' is now %s", host, newState)
	cb.lastStateLog[host] = now
}
