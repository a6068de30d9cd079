// Package dlq is the dead-letter queue: a durable, in-memory-indexed
// triage destination for workflows the engine could not recover from
// automatically, with scheduled retry and a resolution lifecycle.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/store"
)

// tickConcurrency bounds how many due entries Tick retries at once, so a
// large pending backlog doesn't open unbounded compensation/start calls
// in parallel.
const tickConcurrency = 5

// ErrMaxRetriesExceeded is returned by Retry when an entry has already
// been retried 10 times and Force was not set.
var ErrMaxRetriesExceeded = errors.New("dlq: retry cap exceeded")

// ErrCriticalNeverRetried is returned by Retry for a critical_failure
// entry, which is never auto-retried.
var ErrCriticalNeverRetried = errors.New("dlq: critical_failure entries are never auto-retried")

const maxRetryAttempts = 10

// severityByType is the alert severity emitted when an entry of each type
// is enqueued.
var severityByType = map[model.DLQType]string{
	model.DLQCriticalFailure:    "critical",
	model.DLQCompensationFailed: "high",
	model.DLQWorkflowFailed:     "medium",
}

// AlertSender is the alert dispatcher's inbound surface, as seen by the
// DLQ when it needs to notify an operator of a new entry.
type AlertSender interface {
	SendAlert(ctx context.Context, severity, typ, title, message string, metadata model.State) error
}

// CompensationInvoker re-runs a failed step's compensation for a
// compensation_failed entry.
type CompensationInvoker interface {
	InvokeCompensation(ctx context.Context, entry *model.DLQEntry) error
}

// WorkflowHandle is a started workflow's completion signal, as seen by the
// dead-letter queue's retry path: Wait blocks until the workflow reaches a
// terminal state and returns its outcome.
type WorkflowHandle interface {
	Wait() error
}

// WorkflowStarter starts a fresh workflow for a workflow_failed entry's
// retry, under a derived id, and returns a handle the caller can Wait on
// to learn how that retry actually turned out.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, definitionKey, workflowID string, params model.State) (WorkflowHandle, error)
}

// Queue is the dead-letter queue component.
type Queue struct {
	store       store.Store
	alerts      AlertSender
	compensator CompensationInvoker
	starter     WorkflowStarter

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a Queue backed by backend, notifying through alerts and
// retrying through compensator/starter. Either collaborator may be nil if
// that entry type is never expected.
func New(backend store.Store, alerts AlertSender, compensator CompensationInvoker, starter WorkflowStarter) *Queue {
	return &Queue{
		store:       backend,
		alerts:      alerts,
		compensator: compensator,
		starter:     starter,
		now:         func() time.Time { return time.Now().UTC() },
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// nextRetryDelay computes delay = min(5*3^retryCount, 720) minutes.
func nextRetryDelay(retryCount int) time.Duration {
	minutes := 5 * math.Pow(3, float64(retryCount))
	if minutes > 720 {
		minutes = 720
	}
	return time.Duration(minutes * float64(time.Minute))
}

// Enqueue mints an entry id, sanitizes context, computes the next retry
// time, persists the entry, and raises an alert sized to the entry's type.
func (q *Queue) Enqueue(ctx context.Context, entry *model.DLQEntry) error {
	now := q.now()
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	entry.Context = model.SanitizeContext(entry.Context)
	entry.Status = model.DLQStatusPending
	entry.CreatedAt = now
	entry.UpdatedAt = now
	next := now.Add(nextRetryDelay(entry.RetryCount))
	entry.NextRetryAt = &next

	if err := q.store.SaveDLQEntry(ctx, entry); err != nil {
		return fmt.Errorf("dlq: save entry: %w", err)
	}

	if q.alerts != nil {
		severity := severityByType[entry.Type]
		_ = q.alerts.SendAlert(ctx, severity, string(entry.Type),
			fmt.Sprintf("workflow %s landed in the dead-letter queue", entry.WorkflowID),
			entry.Error,
			model.State{"entry_id": entry.EntryID, "workflow_id": entry.WorkflowID, "definition_key": entry.DefinitionKey},
		)
	}
	return nil
}

// Get returns one entry by id.
func (q *Queue) Get(ctx context.Context, entryID string) (*model.DLQEntry, error) {
	return q.store.GetDLQEntry(ctx, entryID)
}

// ListPending returns every entry in status pending. Entries in status
// retrying are not included.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*model.DLQEntry, error) {
	return q.store.ListDLQEntries(ctx, model.DLQStatusPending, limit)
}

// Stats summarizes entry counts by status.
func (q *Queue) Stats(ctx context.Context) (map[model.DLQStatus]int, error) {
	return q.store.DLQStats(ctx)
}

// Retry retries one entry according to its type's semantics:
// compensation_failed invokes the failed step's compensation;
// workflow_failed starts a fresh workflow under "{original_id}_retry_{n}";
// critical_failure is never auto-retried. force bypasses the 10-attempt
// cap (used for operator-triggered manual retries).
func (q *Queue) Retry(ctx context.Context, entryID string, force bool) error {
	entry, err := q.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return err
	}

	if entry.Type == model.DLQCriticalFailure {
		return ErrCriticalNeverRetried
	}
	if !force && entry.RetryCount >= maxRetryAttempts {
		return ErrMaxRetriesExceeded
	}

	switch entry.Type {
	case model.DLQCompensationFailed:
		if q.compensator == nil {
			return fmt.Errorf("dlq: no compensation invoker configured")
		}
		return q.finishRetry(ctx, entry, q.compensator.InvokeCompensation(ctx, entry))

	case model.DLQWorkflowFailed:
		if q.starter == nil {
			return fmt.Errorf("dlq: no workflow starter configured")
		}
		newID := fmt.Sprintf("%s_retry_%d", entry.WorkflowID, entry.RetryCount+1)
		params := entry.OriginalParams
		if params == nil {
			params = model.State{"_retried_from_context": fmt.Sprintf("%v", entry.Context)}
		}
		handle, startErr := q.starter.StartWorkflow(ctx, entry.DefinitionKey, newID, params)
		if startErr != nil {
			return q.finishRetry(ctx, entry, startErr)
		}

		// StartWorkflow only launches the retried workflow; it says
		// nothing about whether the retry itself eventually succeeds.
		// Mark the entry retrying (not resolved) and let
		// awaitRetryOutcome settle it once the spawned workflow actually
		// reaches a terminal state.
		now := q.now()
		entry.RetryCount++
		entry.UpdatedAt = now
		entry.Status = model.DLQStatusRetrying
		entry.NextRetryAt = nil
		if err := q.store.SaveDLQEntry(ctx, entry); err != nil {
			return fmt.Errorf("dlq: save entry: %w", err)
		}
		go q.awaitRetryOutcome(entry.EntryID, handle)
		return nil

	default:
		return fmt.Errorf("dlq: unknown entry type %q", entry.Type)
	}
}

// finishRetry persists entry's retry outcome for retry paths that resolve
// synchronously (compensation retries, or a workflow retry that failed to
// even start): runErr nil means success.
func (q *Queue) finishRetry(ctx context.Context, entry *model.DLQEntry, runErr error) error {
	now := q.now()
	entry.RetryCount++
	entry.UpdatedAt = now

	if runErr != nil {
		next := now.Add(nextRetryDelay(entry.RetryCount))
		entry.NextRetryAt = &next
		entry.Status = model.DLQStatusPending
		_ = q.store.SaveDLQEntry(ctx, entry)
		return runErr
	}

	entry.Status = model.DLQStatusResolved
	entry.Resolution = model.ResolutionAutoResolved
	entry.NextRetryAt = nil
	return q.store.SaveDLQEntry(ctx, entry)
}

// awaitRetryOutcome blocks on handle.Wait() for a workflow_failed entry's
// spawned retry, then settles entryID: auto_resolved if the retry reached
// a clean completion, or re-queued for another retry attempt (matching
// finishRetry's failure handling) if it did not. Runs detached from the
// request that triggered the retry, since the retried workflow can easily
// outlive it.
func (q *Queue) awaitRetryOutcome(entryID string, handle WorkflowHandle) {
	runErr := handle.Wait()

	ctx := context.Background()
	entry, err := q.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return
	}
	now := q.now()
	entry.UpdatedAt = now

	if runErr != nil {
		next := now.Add(nextRetryDelay(entry.RetryCount))
		entry.NextRetryAt = &next
		entry.Status = model.DLQStatusPending
		_ = q.store.SaveDLQEntry(ctx, entry)
		return
	}

	entry.Status = model.DLQStatusResolved
	entry.Resolution = model.ResolutionAutoResolved
	entry.NextRetryAt = nil
	_ = q.store.SaveDLQEntry(ctx, entry)
}

// Resolve closes out entryID with an operator-chosen resolution:
// manual_resolution or compensated_externally set status resolved;
// abandoned sets status abandoned.
func (q *Queue) Resolve(ctx context.Context, entryID string, resolution model.Resolution) error {
	entry, err := q.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Resolution = resolution
	entry.UpdatedAt = q.now()
	entry.NextRetryAt = nil
	if resolution == model.ResolutionAbandoned {
		entry.Status = model.DLQStatusAbandoned
	} else {
		entry.Status = model.DLQStatusResolved
	}
	return q.store.SaveDLQEntry(ctx, entry)
}

// Tick retries every pending entry whose NextRetryAt has elapsed. It is
// the body of the 5-minute scheduler; exposed directly so tests can drive
// it without waiting on a real clock.
func (q *Queue) Tick(ctx context.Context) {
	entries, err := q.store.ListDLQEntries(ctx, model.DLQStatusPending, 0)
	if err != nil {
		return
	}
	now := q.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tickConcurrency)
	for _, e := range entries {
		if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
			continue
		}
		entryID := e.EntryID
		g.Go(func() error {
			_ = q.Retry(gctx, entryID, false)
			return nil
		})
	}
	_ = g.Wait()
}

// RunScheduler ticks every interval until ctx is canceled or Stop is
// called. Intended to be run in its own goroutine.
func (q *Queue) RunScheduler(ctx context.Context, interval time.Duration) {
	defer close(q.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Stop ends a running scheduler loop and waits for it to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}
