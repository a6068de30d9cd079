package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/workflow-go/actor"
	"github.com/flowforge/workflow-go/breaker"
	"github.com/flowforge/workflow-go/config"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/retry"
	"github.com/flowforge/workflow-go/store"
)

type funcStep struct {
	execute    func(ctx context.Context, state model.State) (model.State, error)
	compensate func(ctx context.Context, state model.State) error
}

func (s *funcStep) Execute(ctx context.Context, state model.State) (model.State, error) {
	return s.execute(ctx, state)
}

func (s *funcStep) Compensate(ctx context.Context, state model.State) error {
	if s.compensate == nil {
		return nil
	}
	return s.compensate(ctx, state)
}

type tableDefinition struct {
	steps     map[string]actor.Step
	stepNames []string
}

func (d *tableDefinition) InitialState(params model.State) model.State { return params.Clone() }
func (d *tableDefinition) HandleStepSuccess(name string, state model.State) model.State {
	return state
}
func (d *tableDefinition) HandleStepFailure(name string, reason error, state model.State) model.State {
	return state
}
func (d *tableDefinition) Step(name string) (actor.Step, bool) {
	s, ok := d.steps[name]
	return s, ok
}
func (d *tableDefinition) StepNames() []string { return d.stepNames }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.New()
	cfg.Alert.DedupeWindow = time.Millisecond
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func waitForStatus(t *testing.T, eng *Engine, workflowID string, want model.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		wf, err := eng.GetState(context.Background(), workflowID)
		if err == nil && wf.Status == want {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("timed out waiting for %s, last was %+v (err=%v)", want, wf, err)
		}
	}
}

func TestEngineStartWorkflowRunsToCompletion(t *testing.T) {
	eng := newTestEngine(t)
	def := &tableDefinition{
		steps:     map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) { return s, nil }}},
		stepNames: []string{"step_0000"},
	}
	eng.RegisterDefinition("order", func() actor.Definition { return def })

	_, already, err := eng.StartWorkflow("order", "wf-1", model.State{})
	if err != nil || already {
		t.Fatalf("StartWorkflow: already=%v err=%v", already, err)
	}
	waitForStatus(t, eng, "wf-1", model.StatusCompleted, time.Second)
}

func TestEngineDuplicateStartReturnsAlreadyStarted(t *testing.T) {
	eng := newTestEngine(t)
	def := &tableDefinition{
		steps:     map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) { return s, nil }}},
		stepNames: []string{"step_0000"},
	}
	eng.RegisterDefinition("order", func() actor.Definition { return def })

	_, _, err := eng.StartWorkflow("order", "wf-dup", model.State{})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitForStatus(t, eng, "wf-dup", model.StatusCompleted, time.Second)
	_, already, err := eng.StartWorkflow("order", "wf-dup", model.State{})
	if err != nil || !already {
		t.Fatalf("expected already_started on duplicate id, got already=%v err=%v", already, err)
	}
}

// TestEnginePermanentFailureLandsInDLQ exercises the end-to-end path from
// a failing workflow through the actor's DLQ enqueue to the engine's DLQ
// admin surface.
func TestEnginePermanentFailureLandsInDLQ(t *testing.T) {
	eng := newTestEngine(t)
	def := &tableDefinition{
		steps: map[string]actor.Step{"validate": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) {
			return nil, retry.NewTagged("missing_dni", errors.New("missing dni"))
		}}},
		stepNames: []string{"validate"},
	}
	eng.RegisterDefinition("kyc", func() actor.Definition { return def })

	_, _, err := eng.StartWorkflow("kyc", "wf-fail", model.State{})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitForStatus(t, eng, "wf-fail", model.StatusFailed, time.Second)

	entries, err := eng.ListPendingDLQ(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPendingDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].WorkflowID != "wf-fail" {
		t.Fatalf("expected one DLQ entry for wf-fail, got %+v", entries)
	}
	if entries[0].Type != model.DLQWorkflowFailed {
		t.Fatalf("expected workflow_failed DLQ type, got %s", entries[0].Type)
	}
}

func TestEngineCloseStopsCleanly(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEngineBreakerAdminRoundTrips(t *testing.T) {
	eng := newTestEngine(t)
	eng.ForceBreakerState("payments", breaker.StateOpen)
	if eng.BreakerAllow("payments") {
		t.Fatal("expected forced open breaker to disallow calls")
	}
	eng.ResetBreaker("payments")
	if !eng.BreakerAllow("payments") {
		t.Fatal("expected reset breaker to allow calls again")
	}
}

func TestEngineListWorkflowsAndCountByStatus(t *testing.T) {
	eng := newTestEngine(t)
	def := &tableDefinition{
		steps:     map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) { return s, nil }}},
		stepNames: []string{"step_0000"},
	}
	eng.RegisterDefinition("order", func() actor.Definition { return def })

	_, _, err := eng.StartWorkflow("order", "wf-list", model.State{})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitForStatus(t, eng, "wf-list", model.StatusCompleted, time.Second)

	counts, err := eng.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusCompleted] < 1 {
		t.Fatalf("expected at least 1 completed workflow, got %+v", counts)
	}

	workflows, err := eng.ListWorkflows(context.Background(), store.WorkflowFilter{Status: model.StatusCompleted}, 0)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	found := false
	for _, wf := range workflows {
		if wf.ID == "wf-list" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected wf-list in the completed workflows list")
	}
}
