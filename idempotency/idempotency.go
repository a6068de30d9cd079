// Package idempotency wraps the durable store's idempotency table with the
// begin/complete/fail protocol that lets a step be re-executed safely after
// a crash without duplicating its side effect.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/store"
)

// Outcome mirrors store.IdempotencyOutcome for callers that don't want to
// import the store package directly.
type Outcome = store.IdempotencyOutcome

const (
	OK               = store.OutcomeOK
	AlreadyPending   = store.OutcomeAlreadyPending
	AlreadyCompleted = store.OutcomeAlreadyCompleted
)

// Key formats the idempotency key for one attempt at one step of one
// workflow, per the record shape in the data model.
func Key(workflowID, stepName string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", workflowID, stepName, attempt)
}

// Store is the idempotency component's operations, backed by the durable
// store's idempotency table.
type Store struct {
	backend store.Store
}

// New wraps backend with idempotency semantics.
func New(backend store.Store) *Store {
	return &Store{backend: backend}
}

// Begin starts a new attempt under key. See store.Store.IdempotencyBegin
// for the outcome semantics.
func (s *Store) Begin(ctx context.Context, key string) (*model.Idempotency, Outcome, error) {
	return s.backend.IdempotencyBegin(ctx, key)
}

// Complete marks key's record completed with result, the value future
// replays under the same key will return.
func (s *Store) Complete(ctx context.Context, key string, result model.State) error {
	return s.backend.IdempotencyComplete(ctx, key, result)
}

// Fail marks key's record failed. The caller is expected to mint a new
// attempt key (a new Key(...) call with an incremented attempt) rather
// than retry under the same key.
func (s *Store) Fail(ctx context.Context, key string, errMsg string) error {
	return s.backend.IdempotencyFail(ctx, key, errMsg)
}

// Status returns the current record for key.
func (s *Store) Status(ctx context.Context, key string) (*model.Idempotency, error) {
	return s.backend.IdempotencyStatus(ctx, key)
}

// ListPending returns every record still in the pending state, useful for
// crash-recovery sweeps.
func (s *Store) ListPending(ctx context.Context) ([]*model.Idempotency, error) {
	return s.backend.IdempotencyListPending(ctx)
}

// CleanupOlderThan deletes completed and failed records whose CompletedAt
// predates cutoff. Pending records are never removed by this call, so a
// crash mid-step is always forensically recoverable.
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.backend.IdempotencyCleanupOlderThan(ctx, cutoff)
}
