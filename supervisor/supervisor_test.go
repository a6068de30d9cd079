package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/workflow-go/actor"
	"github.com/flowforge/workflow-go/emit"
	"github.com/flowforge/workflow-go/idempotency"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/retry"
	"github.com/flowforge/workflow-go/store"
)

type funcStep struct {
	execute func(ctx context.Context, state model.State) (model.State, error)
}

func (s *funcStep) Execute(ctx context.Context, state model.State) (model.State, error) {
	return s.execute(ctx, state)
}

type tableDefinition struct {
	steps     map[string]actor.Step
	stepNames []string
}

func (d *tableDefinition) InitialState(params model.State) model.State { return params.Clone() }
func (d *tableDefinition) HandleStepSuccess(name string, state model.State) model.State { return state }
func (d *tableDefinition) HandleStepFailure(name string, reason error, state model.State) model.State {
	return state
}
func (d *tableDefinition) Step(name string) (actor.Step, bool) {
	s, ok := d.steps[name]
	return s, ok
}
func (d *tableDefinition) StepNames() []string { return d.stepNames }

func newTestDeps() actor.Deps {
	backend := store.NewMemStore()
	idem := idempotency.New(backend)
	return actor.Deps{
		Store:         backend,
		Idempotent:    idem,
		Retry:         retry.New(idem, nil),
		Broadcaster:   emit.NewBroadcaster(emit.NewBus()),
		DefaultPolicy: retry.Policy{MaxAttempts: 1, Retryable: retry.RetryableAll},
	}
}

func waitForStatus(t *testing.T, h *Handle, want model.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if h.GetState().Status == want {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("timed out waiting for status %s, last was %s", want, h.GetState().Status)
		}
	}
}

func TestStartWorkflowRunsToCompletion(t *testing.T) {
	def := &tableDefinition{
		steps:     map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) { return s, nil }}},
		stepNames: []string{"step_0000"},
	}
	s := New(newTestDeps(), nil)
	s.Register("order", func() actor.Definition { return def })

	h, already, err := s.StartWorkflow("order", "wf-1", model.State{})
	if err != nil || already {
		t.Fatalf("StartWorkflow: already=%v err=%v", already, err)
	}
	waitForStatus(t, h, model.StatusCompleted, time.Second)
}

func TestStartWorkflowDuplicateIDReturnsAlreadyStarted(t *testing.T) {
	def := &tableDefinition{
		steps: map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}},
		stepNames: []string{"step_0000"},
	}
	s := New(newTestDeps(), nil)
	s.Register("slow", func() actor.Definition { return def })

	h1, already1, err := s.StartWorkflow("slow", "wf-dup", model.State{})
	if err != nil || already1 {
		t.Fatalf("first start: already=%v err=%v", already1, err)
	}
	h2, already2, err := s.StartWorkflow("slow", "wf-dup", model.State{})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !already2 {
		t.Fatal("expected already_started on duplicate id")
	}
	if h1 != h2 {
		t.Fatal("expected the same handle returned for a duplicate id")
	}
	_ = s.StopWorkflow("wf-dup")
}

func TestStopWorkflowDeregisters(t *testing.T) {
	def := &tableDefinition{
		steps: map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}},
		stepNames: []string{"step_0000"},
	}
	s := New(newTestDeps(), nil)
	s.Register("slow", func() actor.Definition { return def })

	_, _, err := s.StartWorkflow("slow", "wf-stop", model.State{})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if _, ok := s.Lookup("wf-stop"); !ok {
		t.Fatal("expected workflow registered")
	}
	if err := s.StopWorkflow("wf-stop"); err != nil {
		t.Fatalf("StopWorkflow: %v", err)
	}
	if _, ok := s.Lookup("wf-stop"); ok {
		t.Fatal("expected workflow deregistered after stop")
	}
}

func TestStartWorkflowUnknownDefinitionErrors(t *testing.T) {
	s := New(newTestDeps(), nil)
	_, _, err := s.StartWorkflow("nope", "wf-x", model.State{})
	if !errors.Is(err, ErrUnknownDefinition) {
		t.Fatalf("expected ErrUnknownDefinition, got %v", err)
	}
}

func TestSupervisorDoesNotRestartOnCleanFailure(t *testing.T) {
	attempts := 0
	def := &tableDefinition{
		steps: map[string]actor.Step{"step_0000": &funcStep{execute: func(ctx context.Context, s model.State) (model.State, error) {
			attempts++
			return nil, errors.New("permanent business failure")
		}}},
		stepNames: []string{"step_0000"},
	}
	s := New(newTestDeps(), nil)
	s.Register("fails", func() actor.Definition { return def })

	h, _, err := s.StartWorkflow("fails", "wf-fail", model.State{})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitForStatus(t, h, model.StatusFailed, time.Second)
	// give the supervisor loop a moment to decide whether to restart
	time.Sleep(50 * time.Millisecond)
	if attempts != 1 {
		t.Fatalf("expected exactly 1 execution of a cleanly-failed step, got %d", attempts)
	}
}
