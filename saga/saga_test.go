package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/workflow-go/model"
)

// TestRunCompensatesInReverseOrderOnFailure mirrors scenario S4: three saga
// steps, the third fails; compensations for two and one run in reverse
// order, and no compensation runs for three.
func TestRunCompensatesInReverseOrderOnFailure(t *testing.T) {
	var compensated []string

	steps := []Step{
		{
			Name:    "one",
			Execute: func(ctx context.Context, s model.State) (model.State, error) { return model.State{}, nil },
			Compensate: func(ctx context.Context, s model.State) error {
				compensated = append(compensated, "one")
				return nil
			},
		},
		{
			Name:    "two",
			Execute: func(ctx context.Context, s model.State) (model.State, error) { return model.State{}, nil },
			Compensate: func(ctx context.Context, s model.State) error {
				compensated = append(compensated, "two")
				return nil
			},
		},
		{
			Name: "three",
			Execute: func(ctx context.Context, s model.State) (model.State, error) {
				return nil, errors.New("boom")
			},
			Compensate: func(ctx context.Context, s model.State) error {
				compensated = append(compensated, "three")
				return nil
			},
		},
	}

	result := Run(context.Background(), steps, model.State{}, Parallelism{}, nil)
	if result.OK {
		t.Fatal("expected failure")
	}
	if len(result.Executed) != 2 || result.Executed[0] != "one" || result.Executed[1] != "two" {
		t.Fatalf("unexpected executed list: %+v", result.Executed)
	}
	if len(compensated) != 2 || compensated[0] != "two" || compensated[1] != "one" {
		t.Fatalf("expected compensations in reverse order [two, one], got %+v", compensated)
	}
	if len(result.CompensationResults) != 2 {
		t.Fatalf("expected 2 compensation results, got %d", len(result.CompensationResults))
	}
}

func TestRunMergesStepResultsIntoState(t *testing.T) {
	steps := []Step{
		{
			Name: "set_a",
			Execute: func(ctx context.Context, s model.State) (model.State, error) {
				return model.State{"a": 1}, nil
			},
		},
		{
			Name: "set_b",
			Execute: func(ctx context.Context, s model.State) (model.State, error) {
				if s["a"] != 1 {
					t.Fatalf("expected prior step's result merged in, got %+v", s)
				}
				return model.State{"b": 2}, nil
			},
		},
	}
	result := Run(context.Background(), steps, model.State{}, Parallelism{}, nil)
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestRunAllSucceedProducesNoCompensations(t *testing.T) {
	steps := []Step{
		{Name: "a", Execute: func(ctx context.Context, s model.State) (model.State, error) { return model.State{}, nil }},
		{Name: "b", Execute: func(ctx context.Context, s model.State) (model.State, error) { return model.State{}, nil }},
	}
	result := Run(context.Background(), steps, model.State{}, Parallelism{}, nil)
	if !result.OK || len(result.CompensationResults) != 0 {
		t.Fatalf("expected clean success with no compensations, got %+v", result)
	}
}

func TestCompensateOneTimesOut(t *testing.T) {
	step := Step{
		Name:                "slow",
		CompensationTimeout: 10 * time.Millisecond,
		Compensate: func(ctx context.Context, s model.State) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	result := compensateOne(context.Background(), step, model.State{})
	if result.OK || !result.TimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}
}

func TestCompensateMissingIsNoOp(t *testing.T) {
	step := Step{Name: "no_compensate"}
	result := compensateOne(context.Background(), step, model.State{})
	if !result.OK {
		t.Fatalf("expected nil Compensate to be treated as a no-op success, got %+v", result)
	}
}

func TestCompensateParallelRunsBounded(t *testing.T) {
	var mu sync.Mutex
	var compensated []string

	steps := []Step{
		{Name: "a", Compensate: func(ctx context.Context, s model.State) error { return nil }},
		{Name: "b", Compensate: func(ctx context.Context, s model.State) error { return nil }},
		{Name: "c", Compensate: func(ctx context.Context, s model.State) error { return nil }},
	}
	results := compensateParallel(context.Background(), steps, model.State{}, 2, func(r CompensationResult) {
		mu.Lock()
		compensated = append(compensated, r.Step)
		mu.Unlock()
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if len(compensated) != 3 {
		t.Fatalf("expected onCompensated called 3 times, got %d", len(compensated))
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("expected all compensations to succeed, got %+v", r)
		}
	}
}
