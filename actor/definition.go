// Package actor is the per-workflow stateful executor: it drives a
// workflow's graph, consults the idempotency store and retry engine for
// every step, runs saga compensation on failure, and persists and
// broadcasts every state transition.
package actor

import (
	"context"

	"github.com/flowforge/workflow-go/graph"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/retry"
)

// Step is a single unit of work inside a workflow. Execute must read
// state["idempotency_key"] and forward it to any external side-effecting
// call so that downstream services can deduplicate.
type Step interface {
	Execute(ctx context.Context, state model.State) (model.State, error)
}

// Validator is an optional fast-fail precheck a Step may implement.
type Validator interface {
	Validate(state model.State) error
}

// Compensator is implemented by saga steps: it undoes Execute's observable
// effects. Steps without it are treated as having a no-op compensation.
type Compensator interface {
	Compensate(ctx context.Context, state model.State) error
}

// Policied lets a step override the default retry policy.
type Policied interface {
	RetryPolicy() retry.Policy
}

// Breakered lets a step name the circuit breaker that guards it. An empty
// name (the default, for steps that don't implement this) means no
// breaker is consulted.
type Breakered interface {
	BreakerName() string
}

// Definition is the workflow definition interface implemented by callers:
// it resolves initial state from start params, looks up steps by name, and
// reacts to a step's outcome.
type Definition interface {
	InitialState(params model.State) model.State
	HandleStepSuccess(stepName string, state model.State) model.State
	HandleStepFailure(stepName string, reason error, state model.State) model.State
	Step(name string) (Step, bool)
}

// GraphDefinition supplies its own graph directly.
type GraphDefinition interface {
	Definition
	Graph() *graph.Graph
}

// LinearDefinition supplies an ordered step-name list, adapted into a
// linear graph via graph.FromLinearSteps.
type LinearDefinition interface {
	Definition
	StepNames() []string
}

// resolveGraph materializes def's graph via whichever construction path it
// implements.
func resolveGraph(def Definition) (*graph.Graph, error) {
	if gd, ok := def.(GraphDefinition); ok {
		return gd.Graph(), nil
	}
	if ld, ok := def.(LinearDefinition); ok {
		return graph.FromLinearSteps(ld.StepNames()), nil
	}
	return nil, errNoGraphSource
}
