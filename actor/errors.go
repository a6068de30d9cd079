package actor

import "errors"

// errNoGraphSource is returned when a Definition implements neither
// GraphDefinition nor LinearDefinition.
var errNoGraphSource = errors.New("actor: definition supplies neither Graph() nor StepNames()")

// ErrStepNotFound is returned when a graph step node names a step the
// definition doesn't know about.
var ErrStepNotFound = errors.New("actor: step not found in definition")

// ErrAlreadyTerminal is returned by Resume when the actor's workflow record
// is already completed or failed.
var ErrAlreadyTerminal = errors.New("actor: workflow is already in a terminal state")
