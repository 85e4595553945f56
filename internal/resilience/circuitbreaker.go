// Package resilience keeps a live call usable when an upstream provider is
// not. [CircuitBreaker] guards the auxiliary model calls on the hot path
// (reranking, query rewriting): once a provider shows a failure streak the
// breaker rejects further calls immediately, and retrieval degrades to its
// unassisted ordering instead of stalling the caller. [FallbackGroup] chains
// provider instances so a tripped primary is bypassed for the next healthy
// one.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to decide
	// whether the upstream has recovered.
	StateHalfOpen
)

func (s State) String() string {
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

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log lines.
	Name string

	// MaxFailures is the failure streak that trips a closed breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing the upstream again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. That many
	// consecutive successes close the breaker; any failure re-opens it.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker: closed until a failure streak,
// open until the reset timeout, half-open while probing.
type CircuitBreaker struct {
	name         string
	failMax      int
	resetTimeout time.Duration
	probeMax     int

	mu         sync.Mutex
	state      State
	failStreak int
	openedAt   time.Time
	probes     int
	probeWins  int
}

// NewCircuitBreaker creates a breaker, filling zero config fields with the
// documented defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		failMax:      cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeMax:     cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker rejects the call. fn's error is
// returned unchanged so callers can branch on their own sentinel errors;
// a rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it counts
// against the half-open probe budget.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker probing upstream", "name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.probeMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the call outcome.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !probe {
			cb.failStreak = 0
			return
		}
		cb.probeWins++
		if cb.probeWins >= cb.probeMax {
			cb.state = StateClosed
			cb.failStreak = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		}
		return
	}

	if probe {
		// One failed probe is enough evidence the upstream is still down.
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.failStreak = cb.failMax
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.name)
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.failMax {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker opened", "name", cb.name, "failure_streak", cb.failStreak)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports half-open; the stored state moves on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
