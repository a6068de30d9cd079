// Package store provides durable persistence for workflows, their event
// trace, idempotency records, and dead-letter entries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowforge/workflow-go/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MySQLStore)(nil)
)

// IdempotencyOutcome classifies the result of Begin.
type IdempotencyOutcome string

const (
	OutcomeOK               IdempotencyOutcome = "ok"
	OutcomeAlreadyPending   IdempotencyOutcome = "already_pending"
	OutcomeAlreadyCompleted IdempotencyOutcome = "already_completed"
)

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status        model.Status
	DefinitionKey string
}

// EventFilter narrows GetEvents.
type EventFilter struct {
	Type model.EventType
}

// Snapshot is the backup format: every table, fully materialized.
type Snapshot struct {
	Timestamp time.Time
	NodeID    string
	Workflows []*model.Workflow
	Events    []*model.Event
	Idempotent []*model.Idempotency
	DLQ       []*model.DLQEntry
}

// Store is the durable persistence surface backing workflows, the append-only
// event trace, idempotency records, and DLQ entries. All writes are
// transactional. GetWorkflowDirty and the idempotency hot-path lookups are
// explicitly allowed to be dirty reads: latest-committed-visible, without
// isolation from concurrent writers. Everything else observes a consistent
// snapshot as of the call.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	// GetWorkflow is a consistent read.
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	// GetWorkflowDirty is a fast-path read used by hot paths (dashboards,
	// idempotency cross-checks); it may observe a record mid-write.
	GetWorkflowDirty(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter, limit int) ([]*model.Workflow, error)
	// DeleteWorkflow removes the workflow record and cascades to its events.
	DeleteWorkflow(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[model.Status]int, error)

	AppendEvent(ctx context.Context, ev *model.Event) error
	GetEvents(ctx context.Context, workflowID string, filter EventFilter, limit int) ([]*model.Event, error)

	// IdempotencyBegin atomically inserts a pending record for key if none
	// exists. OutcomeOK means the caller should proceed; OutcomeAlreadyPending
	// means a crash-recovery re-execution under the same key; OutcomeAlreadyCompleted
	// returns the cached record for the caller to reuse verbatim.
	IdempotencyBegin(ctx context.Context, key string) (*model.Idempotency, IdempotencyOutcome, error)
	IdempotencyComplete(ctx context.Context, key string, result model.State) error
	IdempotencyFail(ctx context.Context, key string, errMsg string) error
	IdempotencyStatus(ctx context.Context, key string) (*model.Idempotency, error)
	IdempotencyListPending(ctx context.Context) ([]*model.Idempotency, error)
	IdempotencyCleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	SaveDLQEntry(ctx context.Context, e *model.DLQEntry) error
	GetDLQEntry(ctx context.Context, id string) (*model.DLQEntry, error)
	ListDLQEntries(ctx context.Context, status model.DLQStatus, limit int) ([]*model.DLQEntry, error)
	DLQStats(ctx context.Context) (map[model.DLQStatus]int, error)

	// Backup materializes every table into a Snapshot.
	Backup(ctx context.Context) (*Snapshot, error)
	// Destroy drops and recreates the schema, losing all data.
	Destroy(ctx context.Context) error
	// Restore replaces all tables with the contents of snapshot. On failure
	// the snapshot is written to an emergency file (see restoreAtomic) and
	// the returned error names that file.
	Restore(ctx context.Context, snapshot *Snapshot) error

	Close() error
}
