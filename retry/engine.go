package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowforge/workflow-go/breaker"
	"github.com/flowforge/workflow-go/idempotency"
	"github.com/flowforge/workflow-go/model"
)

// ErrAttemptsExhausted is returned when every attempt under policy has
// been used up without success.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// StepFunc is a single step execution: given the current state, return the
// new state on success or an error (ideally a TaggedError) on failure.
type StepFunc func(ctx context.Context, state model.State) (model.State, error)

// Engine runs a StepFunc under a Policy, consulting an idempotency store
// for exactly-once bookkeeping and an optional circuit breaker for
// short-circuiting calls to a failing dependency.
type Engine struct {
	idempotent *idempotency.Store
	breakers   *breaker.Registry
}

// New returns an Engine backed by idempotent records and, optionally, a
// breaker registry (nil disables circuit-breaker integration entirely).
func New(idempotent *idempotency.Store, breakers *breaker.Registry) *Engine {
	return &Engine{idempotent: idempotent, breakers: breakers}
}

// Execute runs step under policy for one step of one workflow, retrying
// per the algorithm in the per-step execution design: idempotency-gated
// exactly-once attempts, optional circuit-breaker short-circuiting,
// exponential backoff between attempts, and permanent-error short-circuit.
// breakerName may be empty to skip circuit-breaker integration for this
// step. startAttempt is the attempt number to begin from — 1 for a fresh
// step, or whatever the caller's crash-recovery check determined the
// step's run should resume at, so a terminal (failed) attempt's key is
// never reused across a restart.
func (e *Engine) Execute(ctx context.Context, workflowID, stepName, breakerName string, policy Policy, startAttempt int, state model.State, step StepFunc) (model.State, error) {
	var cb *breaker.Breaker
	if breakerName != "" && e.breakers != nil {
		cb = e.breakers.Get(breakerName)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if startAttempt < 1 {
		startAttempt = 1
	}
	if startAttempt > maxAttempts {
		return state, ErrAttemptsExhausted
	}

	for attempt := startAttempt; ; attempt++ {
		key := idempotency.Key(workflowID, stepName, attempt)

		rec, outcome, err := e.idempotent.Begin(ctx, key)
		if err != nil {
			return state, fmt.Errorf("retry: idempotency begin: %w", err)
		}
		if outcome == idempotency.AlreadyCompleted {
			return rec.Result, nil
		}

		if cb != nil && !cb.Allow() {
			return state, breaker.ErrCircuitOpen
		}

		attemptState := state.Clone()
		attemptState["idempotency_key"] = key
		attemptState["retry_attempt"] = attempt
		attemptState["max_attempts"] = maxAttempts

		newState, stepErr := callStep(ctx, step, attemptState)
		if stepErr == nil {
			if err := e.idempotent.Complete(ctx, key, newState); err != nil {
				return newState, fmt.Errorf("retry: idempotency complete: %w", err)
			}
			if cb != nil {
				cb.ReportSuccess()
			}
			return newState, nil
		}

		_ = e.idempotent.Fail(ctx, key, stepErr.Error())
		if cb != nil {
			cb.ReportFailure()
		}

		if attempt >= maxAttempts {
			return state, stepErr
		}
		if !Retryable(policy, stepErr) {
			return state, stepErr
		}

		delay := Backoff(policy, attempt)
		if err := SleepCancellable(ctx, delay); err != nil {
			return state, err
		}
	}
}

// callStep runs step and converts a panic into a tagged "exception" error
// instead of letting it unwind out of Execute. A panic inside user code is
// a step failure like any other: it should flow through the same
// retry/compensate/DLQ path, not abort the supervising goroutine outright.
func callStep(ctx context.Context, step StepFunc, state model.State) (newState model.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewTagged("exception", fmt.Errorf("step panicked: %v", r))
		}
	}()
	return step(ctx, state)
}
