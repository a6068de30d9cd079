// Package breaker implements a per-name circuit breaker registry that
// protects calls to flaky external dependencies.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Call when the breaker is open and the
// open_timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// Config configures a single named breaker.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	ResetTimeout     time.Duration
	OnStateChange    func(name string, from, to State)
}

// defaultConfig gives conservative thresholds for breakers that don't
// specify their own Config.
func defaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		ResetTimeout:     5 * time.Minute,
	}
}

// Breaker is one named circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	openedAt    time.Time
}

func newBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultConfig().OpenTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultConfig().ResetTimeout
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// Status snapshots the breaker's current counters and state.
type Status struct {
	Name      string
	State     State
	Failures  int
	Successes int
}

// Status returns the breaker's current state and counters.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeReset()
	b.maybeHalfOpen()
	return Status{Name: b.name, State: b.state, Failures: b.failures, Successes: b.successes}
}

// Allow reports whether a call would currently be let through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeReset()
	b.maybeHalfOpen()
	return b.state != StateOpen
}

// Call runs fn under this breaker's protection. A non-nil error from fn is
// recorded as a failure; a panic inside fn is recovered, recorded as a
// failure, and re-raised after bookkeeping.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	defer func() {
		if r := recover(); r != nil {
			b.ReportFailure()
			panic(r)
		}
	}()
	err = fn(ctx)
	if err != nil {
		b.ReportFailure()
	} else {
		b.ReportSuccess()
	}
	return err
}

// ReportSuccess manually records a success, for callers that run the
// protected operation themselves (Call is the usual path).
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSuccess = time.Now()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

// ReportFailure manually records a failure.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// ForceState overrides the breaker into state, bypassing its normal
// transition rules. Intended for operator admin actions.
func (b *Breaker) ForceState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(state)
}

// Reset clears counters and returns the breaker to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// maybeHalfOpen transitions open -> half_open once open_timeout has
// elapsed since opening. Must be called with b.mu held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(StateHalfOpen)
	}
}

// maybeReset clears counters after reset_timeout of inactivity, without
// changing state. Must be called with b.mu held.
func (b *Breaker) maybeReset() {
	if b.cfg.ResetTimeout <= 0 {
		return
	}
	last := b.lastFailure
	if b.lastSuccess.After(last) {
		last = b.lastSuccess
	}
	if last.IsZero() {
		return
	}
	if time.Since(last) >= b.cfg.ResetTimeout {
		b.failures = 0
		b.successes = 0
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	b.failures = 0
	b.successes = 0
	if newState == StateOpen {
		b.openedAt = time.Now()
	}
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, old, newState)
	}
}
