package qcontrol

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

/*
BreakerState is the operating mode of a module's driver breaker.
*/
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Driver calls flow normally
	BreakerOpen                         // Driver is failing, calls are rejected
	BreakerHalfOpen                     // Probing whether the driver recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

/*
CircuitBreaker stops a module from hammering a driver that keeps failing.
After maxFailures consecutive driver failures every call is rejected with
ErrCircuitOpen until resetTimeout has passed; then up to halfOpenMax probe
calls are admitted, and once that many succeed the breaker closes again.
Any failed probe reopens it.

A nil *CircuitBreaker allows everything.
*/
type CircuitBreaker struct {
	mu               sync.Mutex
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMax      int
	failureCount     int
	state            BreakerState
	openTime         time.Time
	halfOpenAttempts int
	halfOpenSuccess  int
	logger           *log.Logger
}

/*
NewCircuitBreaker creates a breaker in the closed state.

Parameters:
  - maxFailures: consecutive failures that open the breaker; 0 disables it
  - resetTimeout: how long the breaker stays open before probing
  - halfOpenMax: successful probes needed to close again

Returns:
  - *CircuitBreaker: the breaker, or nil when disabled
*/
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if maxFailures <= 0 {
		return nil
	}
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		state:        BreakerClosed,
		logger:       log.Default().With("component", "breaker"),
	}
}

// Guard runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Guard(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return BreakerClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	switch {
	case cb.state == BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.openTime = time.Now()
		cb.logger.Warn("driver breaker reopened from half-open")
	case cb.state == BreakerClosed && cb.failureCount >= cb.maxFailures:
		cb.state = BreakerOpen
		cb.openTime = time.Now()
		cb.logger.Warn("driver breaker opened", "failures", cb.failureCount)
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.halfOpenMax {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.halfOpenAttempts = 0
			cb.halfOpenSuccess = 0
			cb.logger.Info("driver breaker closed")
		}
	case BreakerClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.openTime) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenAttempts = 1
			cb.halfOpenSuccess = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.halfOpenAttempts < cb.halfOpenMax {
			cb.halfOpenAttempts++
			return true
		}
		return false
	default:
		return false
	}
}
