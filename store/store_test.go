package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/workflow-go/model"
)

// storeFactories is run against every backend so behavior stays consistent
// across implementations without duplicating test bodies per backend.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func TestStoreSaveAndGetWorkflow(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			wf := &model.Workflow{
				ID:            "wf-1",
				DefinitionKey: "order_fulfillment",
				Status:        model.StatusRunning,
				StatePayload:  model.State{"order_id": "o1"},
				TotalSteps:    3,
				StartedAt:     time.Now().UTC().Truncate(time.Millisecond),
				InsertedAt:    time.Now().UTC().Truncate(time.Millisecond),
				UpdatedAt:     time.Now().UTC().Truncate(time.Millisecond),
			}
			if err := s.SaveWorkflow(ctx, wf); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, err := s.GetWorkflow(ctx, "wf-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.DefinitionKey != "order_fulfillment" || got.StatePayload["order_id"] != "o1" {
				t.Fatalf("got unexpected workflow: %+v", got)
			}

			if _, err := s.GetWorkflow(ctx, "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDeleteWorkflowCascadesEvents(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			wf := &model.Workflow{ID: "wf-2", Status: model.StatusRunning, StatePayload: model.State{},
				StartedAt: time.Now().UTC(), InsertedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
			if err := s.SaveWorkflow(ctx, wf); err != nil {
				t.Fatalf("save workflow: %v", err)
			}
			ev := &model.Event{EventID: "e1", WorkflowID: "wf-2", Type: model.EventWorkflowStarted,
				Data: map[string]any{}, Timestamp: time.Now().UTC()}
			if err := s.AppendEvent(ctx, ev); err != nil {
				t.Fatalf("append event: %v", err)
			}

			if err := s.DeleteWorkflow(ctx, "wf-2"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			events, err := s.GetEvents(ctx, "wf-2", EventFilter{}, 0)
			if err != nil {
				t.Fatalf("get events: %v", err)
			}
			if len(events) != 0 {
				t.Fatalf("expected events cascaded away, got %d", len(events))
			}
		})
	}
}

func TestStoreIdempotencyLifecycle(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()
			key := "wf-3:charge_card:1"

			_, outcome, err := s.IdempotencyBegin(ctx, key)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if outcome != OutcomeOK {
				t.Fatalf("expected OutcomeOK, got %v", outcome)
			}

			_, outcome, err = s.IdempotencyBegin(ctx, key)
			if err != nil {
				t.Fatalf("second begin: %v", err)
			}
			if outcome != OutcomeAlreadyPending {
				t.Fatalf("expected OutcomeAlreadyPending, got %v", outcome)
			}

			if err := s.IdempotencyComplete(ctx, key, model.State{"charged": true}); err != nil {
				t.Fatalf("complete: %v", err)
			}

			rec, outcome, err := s.IdempotencyBegin(ctx, key)
			if err != nil {
				t.Fatalf("begin after complete: %v", err)
			}
			if outcome != OutcomeAlreadyCompleted {
				t.Fatalf("expected OutcomeAlreadyCompleted, got %v", outcome)
			}
			if rec.Result["charged"] != true {
				t.Fatalf("expected cached result, got %+v", rec.Result)
			}
		})
	}
}

func TestStoreIdempotencyCleanupPreservesPending(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			if _, _, err := s.IdempotencyBegin(ctx, "pending-key"); err != nil {
				t.Fatalf("begin pending: %v", err)
			}
			if _, _, err := s.IdempotencyBegin(ctx, "done-key"); err != nil {
				t.Fatalf("begin done: %v", err)
			}
			if err := s.IdempotencyComplete(ctx, "done-key", model.State{}); err != nil {
				t.Fatalf("complete: %v", err)
			}

			n, err := s.IdempotencyCleanupOlderThan(ctx, time.Now().UTC().Add(time.Hour))
			if err != nil {
				t.Fatalf("cleanup: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 cleaned record, got %d", n)
			}
			if _, err := s.IdempotencyStatus(ctx, "pending-key"); err != nil {
				t.Fatalf("pending key should survive cleanup: %v", err)
			}
		})
	}
}

func TestStoreBackupRestoreRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			wf := &model.Workflow{ID: "wf-4", Status: model.StatusCompleted, StatePayload: model.State{"x": 1.0},
				StartedAt: time.Now().UTC(), InsertedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
			if err := s.SaveWorkflow(ctx, wf); err != nil {
				t.Fatalf("save: %v", err)
			}
			ev := &model.Event{EventID: "e2", WorkflowID: "wf-4", Type: model.EventWorkflowCompleted,
				Data: map[string]any{}, Timestamp: time.Now().UTC()}
			if err := s.AppendEvent(ctx, ev); err != nil {
				t.Fatalf("append event: %v", err)
			}

			snap, err := s.Backup(ctx)
			if err != nil {
				t.Fatalf("backup: %v", err)
			}
			if err := s.Destroy(ctx); err != nil {
				t.Fatalf("destroy: %v", err)
			}
			if _, err := s.GetWorkflow(ctx, "wf-4"); err != ErrNotFound {
				t.Fatalf("expected destroyed store to have no workflow, got %v", err)
			}

			if err := s.Restore(ctx, snap); err != nil {
				t.Fatalf("restore: %v", err)
			}
			got, err := s.GetWorkflow(ctx, "wf-4")
			if err != nil {
				t.Fatalf("get after restore: %v", err)
			}
			if got.Status != model.StatusCompleted {
				t.Fatalf("expected restored status completed, got %v", got.Status)
			}
			events, err := s.GetEvents(ctx, "wf-4", EventFilter{}, 0)
			if err != nil || len(events) != 1 {
				t.Fatalf("expected 1 restored event, got %d (err %v)", len(events), err)
			}
		})
	}
}

func TestStoreCountByStatus(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			ctx := context.Background()

			for i, status := range []model.Status{model.StatusRunning, model.StatusRunning, model.StatusCompleted} {
				wf := &model.Workflow{ID: string(rune('a' + i)), Status: status, StatePayload: model.State{},
					StartedAt: time.Now().UTC(), InsertedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
				if err := s.SaveWorkflow(ctx, wf); err != nil {
					t.Fatalf("save: %v", err)
				}
			}
			counts, err := s.CountByStatus(ctx)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if counts[model.StatusRunning] != 2 || counts[model.StatusCompleted] != 1 {
				t.Fatalf("unexpected counts: %+v", counts)
			}
		})
	}
}
