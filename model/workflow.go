// Package model holds the data types shared across the workflow engine:
// workflow records, the append-only event log, idempotency records, and
// dead-letter entries. Nothing in this package talks to storage or the
// network — it is the vocabulary every other package imports.
package model

import "time"

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is the free-form, JSON-serializable payload an actor threads
// through a workflow's steps. Keys are owned by the workflow definition
// and its steps; the engine only ever copies or merges the map, it never
// interprets individual keys.
type State map[string]any

// Clone returns a shallow copy of s. Steps must not mutate the State they
// are given in place; they return a new one via Execute's return value.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with delta's keys overlaid on top.
func (s State) Merge(delta State) State {
	out := s.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Workflow is the durable record of one in-flight or finished workflow.
//
// Invariants (enforced by the actor, not by this type):
//
//	0 <= CurrentStepIndex <= TotalSteps
//	Status == StatusCompleted => CurrentStepIndex == TotalSteps && CompletedAt != nil
//	Status == StatusFailed    => Error != "" && CompletedAt != nil
type Workflow struct {
	ID                string     `json:"id"`
	DefinitionKey     string     `json:"definition_key"`
	Status            Status     `json:"status"`
	StatePayload      State      `json:"state_payload"`
	CurrentStepIndex  int        `json:"current_step_index"`
	TotalSteps        int        `json:"total_steps"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Error             string     `json:"error,omitempty"`
	InsertedAt        time.Time  `json:"inserted_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Clone returns a deep-enough copy for safe handoff across goroutine
// boundaries (actor -> dashboard snapshot, store -> caller).
func (w Workflow) Clone() Workflow {
	c := w
	c.StatePayload = w.StatePayload.Clone()
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// EventType is the closed set of lifecycle points recorded in the event log.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// Event is one append-only entry in a workflow's execution trace.
type Event struct {
	EventID    string         `json:"event_id"`
	WorkflowID string         `json:"workflow_id"`
	Type       EventType      `json:"type"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// IdempotencyStatus is the lifecycle of a single idempotency record.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// Idempotency is the exactly-once accounting record for one
// (workflow, step, attempt) triple. Once Completed or Failed, it is
// immutable; a new attempt gets a new record under a new key.
type Idempotency struct {
	Key         string            `json:"key"`
	Status      IdempotencyStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      State             `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// DLQType classifies why an entry landed in the dead letter queue.
type DLQType string

const (
	DLQWorkflowFailed     DLQType = "workflow_failed"
	DLQCompensationFailed DLQType = "compensation_failed"
	DLQCriticalFailure    DLQType = "critical_failure"
)

// DLQStatus is the triage lifecycle of a dead-letter entry.
type DLQStatus string

const (
	DLQStatusPending   DLQStatus = "pending"
	DLQStatusRetrying  DLQStatus = "retrying"
	DLQStatusResolved  DLQStatus = "resolved"
	DLQStatusAbandoned DLQStatus = "abandoned"
)

// Resolution records how a DLQ entry was finally put to rest.
type Resolution string

const (
	ResolutionAutoResolved         Resolution = "auto_resolved"
	ResolutionManual               Resolution = "manual_resolution"
	ResolutionAbandoned            Resolution = "abandoned"
	ResolutionCompensatedExternal  Resolution = "compensated_externally"
)

// DLQEntry is a durable triage record for a workflow the engine could not
// recover from automatically.
type DLQEntry struct {
	EntryID        string     `json:"entry_id"`
	Type           DLQType    `json:"type"`
	Status         DLQStatus  `json:"status"`
	WorkflowID     string     `json:"workflow_id"`
	DefinitionKey  string     `json:"definition_key"`
	FailedStep     string     `json:"failed_step,omitempty"`
	Error          string     `json:"error"`
	Context        State      `json:"context"`
	OriginalParams State      `json:"original_params"`
	Metadata       State      `json:"metadata,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	RetryCount     int        `json:"retry_count"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
}
