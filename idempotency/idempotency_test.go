package idempotency

import (
	"context"
	"testing"

	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/store"
)

func TestKeyFormat(t *testing.T) {
	got := Key("wf-1", "charge_card", 2)
	want := "wf-1:charge_card:2"
	if got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

func TestBeginCompleteFailLifecycle(t *testing.T) {
	s := New(store.NewMemStore())
	ctx := context.Background()
	key := Key("wf-1", "charge_card", 1)

	_, outcome, err := s.Begin(ctx, key)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if outcome != OK {
		t.Fatalf("expected OK, got %v", outcome)
	}

	if err := s.Fail(ctx, key, "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	rec, err := s.Status(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Status != model.IdempotencyFailed || rec.Error != "timeout" {
		t.Fatalf("unexpected record after fail: %+v", rec)
	}

	key2 := Key("wf-1", "charge_card", 2)
	_, outcome, err = s.Begin(ctx, key2)
	if err != nil {
		t.Fatalf("begin attempt 2: %v", err)
	}
	if outcome != OK {
		t.Fatalf("expected OK for fresh attempt key, got %v", outcome)
	}
	if err := s.Complete(ctx, key2, model.State{"charged": true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec2, outcome, err := s.Begin(ctx, key2)
	if err != nil {
		t.Fatalf("begin after complete: %v", err)
	}
	if outcome != AlreadyCompleted {
		t.Fatalf("expected AlreadyCompleted, got %v", outcome)
	}
	if rec2.Result["charged"] != true {
		t.Fatalf("expected cached result, got %+v", rec2.Result)
	}
}
