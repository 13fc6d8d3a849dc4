// Package resilience implements a circuit breaker that fails calls fast
// after a string of consecutive failures, rather than retrying a doomed
// operation on every call. No other package in this module wraps its
// backend or coordinator calls in it.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is a CircuitBreaker's position in its Closed/Open/HalfOpen machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a CircuitBreaker's thresholds.
type Config struct {
	Name             string
	FailureThreshold int64
	RecoveryTimeout  time.Duration
	SuccessThreshold int64
	Timeout          time.Duration
}

// DefaultConfig returns sensible thresholds for guarding a single backend
// or coordinator connection.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	}
}

// CircuitBreaker wraps calls to a possibly-failing dependency, opening
// after FailureThreshold consecutive failures and probing recovery after
// RecoveryTimeout via a bounded number of HalfOpen trial calls.
type CircuitBreaker struct {
	cfg Config

	mu               sync.RWMutex
	state            State
	stateChangedAt   time.Time
	consecutiveFails int64
	halfOpenSuccess  int64

	totalRequests int64
	totalFailures int64
}

// New returns a CircuitBreaker in the Closed state.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed, stateChangedAt: time.Now()}
}

// Execute runs fn under circuit-breaker protection. If the circuit is Open
// and RecoveryTimeout hasn't elapsed, Execute fails fast without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return fmt.Errorf("circuit breaker %q is open", cb.cfg.Name)
	}

	atomic.AddInt64(&cb.totalRequests, 1)

	runCtx := ctx
	if cb.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cb.cfg.Timeout)
		defer cancel()
	}

	err := fn(runCtx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.stateChangedAt) >= cb.cfg.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	atomic.AddInt64(&cb.totalFailures, 1)

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.consecutiveFails = 0
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.stateChangedAt = time.Now()
	cb.consecutiveFails = 0
	cb.halfOpenSuccess = 0
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
