// Package graph is the declarative DAG model for workflow definitions:
// step/branch/join nodes, conditional edges, a linear-list adapter, and a
// static validator. It is purely structural — it never calls user code
// except a branch node's predicate, which only inspects state.
package graph

import "github.com/flowforge/workflow-go/model"

// Kind is the closed set of node kinds a graph can contain.
type Kind string

const (
	// KindStep is a unit of work; its StepName names the step module an
	// actor should invoke.
	KindStep Kind = "step"

	// KindBranch evaluates a Predicate against the current state and
	// routes along the edge whose tag matches the result.
	KindBranch Kind = "branch"

	// KindJoin is a structural marker with no behavior of its own; an
	// actor advances through it transparently.
	KindJoin Kind = "join"
)

// DefaultTag is the reserved branch edge tag matched when a predicate's
// result has no edge of its own.
const DefaultTag = "default"

// Predicate evaluates workflow state and returns a tag used to select an
// outgoing edge from a branch node.
type Predicate func(state model.State) string

// Node is one vertex in the graph.
type Node struct {
	ID string
	// Kind classifies this node; see Kind constants.
	Kind Kind
	// StepName names the step module this node executes. Only meaningful
	// when Kind == KindStep.
	StepName string
	// Predicate classifies state into a tag. Only meaningful when
	// Kind == KindBranch.
	Predicate Predicate
}
