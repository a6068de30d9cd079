// Package saga runs an ordered list of steps and, on the first failure,
// compensates every previously executed step in reverse order.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/workflow-go/model"
	"golang.org/x/sync/semaphore"
)

// Step is one unit of work inside a saga: Execute runs it, Compensate
// undoes its effect if a later step fails. Compensate may be nil, which
// is treated as a no-op.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, state model.State) (model.State, error)
	Compensate func(ctx context.Context, state model.State) error

	// CompensationTimeout bounds how long Compensate may run; zero means
	// the 30s default.
	CompensationTimeout time.Duration
	// RetryCompensation asks the runner to retry a failed compensation
	// once before giving up on it.
	RetryCompensation bool
	// Critical aborts any remaining compensations if this step's own
	// compensation fails.
	Critical bool
}

const defaultCompensationTimeout = 30 * time.Second

// CompensationResult records the outcome of compensating one step.
type CompensationResult struct {
	Step     string
	OK       bool
	Error    string
	TimedOut bool
}

// Result is the outcome of a saga Run.
type Result struct {
	OK                  bool
	Executed            []string
	Reason              string
	Err                 error
	CompensationResults []CompensationResult
}

// Parallelism controls how saga compensations are scheduled: sequential
// (default, zero value) or bounded-concurrency.
type Parallelism struct {
	// MaxConcurrent compensations to run at once. 0 or 1 means sequential.
	MaxConcurrent int
}

// OnCompensated, if set, is invoked after each compensation attempt.
type OnCompensated func(result CompensationResult)

// Run executes steps in order against state. On success every step's
// result is merged into state and Run returns ok with the executed step
// names. On the first failure, every previously executed step is
// compensated in reverse order — sequentially by default, or with bounded
// concurrency per par — and Run returns the failure reason alongside the
// executed list and every compensation's outcome.
func Run(ctx context.Context, steps []Step, state model.State, par Parallelism, onCompensated OnCompensated) Result {
	executed := make([]Step, 0, len(steps))
	executedNames := make([]string, 0, len(steps))
	current := state.Clone()

	for _, step := range steps {
		next, err := step.Execute(ctx, current)
		if err != nil {
			compResults := compensate(ctx, executed, current, par, onCompensated)
			return Result{
				OK:                  false,
				Executed:            executedNames,
				Reason:              err.Error(),
				Err:                 err,
				CompensationResults: compResults,
			}
		}
		current = current.Merge(next)
		executed = append(executed, step)
		executedNames = append(executedNames, step.Name)
	}

	return Result{OK: true, Executed: executedNames}
}

// Compensate runs every step in executed (given in forward execution
// order) in reverse, for callers that drive step execution themselves
// (the workflow actor) and only need the compensation half of Run.
func Compensate(ctx context.Context, executed []Step, state model.State, par Parallelism, onCompensated OnCompensated) []CompensationResult {
	return compensate(ctx, executed, state, par, onCompensated)
}

// compensate runs every executed step's Compensate in reverse order.
func compensate(ctx context.Context, executed []Step, state model.State, par Parallelism, onCompensated OnCompensated) []CompensationResult {
	reversed := make([]Step, len(executed))
	for i, s := range executed {
		reversed[len(executed)-1-i] = s
	}

	if par.MaxConcurrent > 1 {
		return compensateParallel(ctx, reversed, state, par.MaxConcurrent, onCompensated)
	}
	return compensateSequential(ctx, reversed, state, onCompensated)
}

func compensateSequential(ctx context.Context, steps []Step, state model.State, onCompensated OnCompensated) []CompensationResult {
	results := make([]CompensationResult, 0, len(steps))
	for _, step := range steps {
		result := compensateOne(ctx, step, state)
		results = append(results, result)
		if onCompensated != nil {
			onCompensated(result)
		}
		if !result.OK && step.Critical {
			break
		}
	}
	return results
}

// compensateParallel runs independent compensations with bounded
// concurrency. Because a later Critical abort can no longer prevent
// earlier-scheduled compensations from starting, Critical is best-effort
// under parallel scheduling: it stops new compensations from being
// scheduled once observed, but ones already in flight still complete.
func compensateParallel(ctx context.Context, steps []Step, state model.State, maxConcurrent int, onCompensated OnCompensated) []CompensationResult {
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make([]CompensationResult, len(steps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var aborted bool

	for i, step := range steps {
		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop {
			results[i] = CompensationResult{Step: step.Name, OK: false, Error: "skipped: prior critical compensation failed"}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = CompensationResult{Step: step.Name, OK: false, Error: err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			defer sem.Release(1)
			result := compensateOne(ctx, step, state)
			mu.Lock()
			results[i] = result
			if !result.OK && step.Critical {
				aborted = true
			}
			mu.Unlock()
			if onCompensated != nil {
				onCompensated(result)
			}
		}(i, step)
	}
	wg.Wait()
	return results
}

func compensateOne(ctx context.Context, step Step, state model.State) CompensationResult {
	if step.Compensate == nil {
		return CompensationResult{Step: step.Name, OK: true}
	}

	timeout := step.CompensationTimeout
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}

	attempts := 1
	if step.RetryCompensation {
		attempts = 2
	}

	var last CompensationResult
	for attempt := 1; attempt <= attempts; attempt++ {
		last = runCompensation(ctx, step, state, timeout)
		if last.OK {
			return last
		}
	}
	return last
}

func runCompensation(ctx context.Context, step Step, state model.State, timeout time.Duration) CompensationResult {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- step.Compensate(cctx, state)
	}()

	select {
	case <-cctx.Done():
		return CompensationResult{Step: step.Name, OK: false, TimedOut: true, Error: fmt.Sprintf("compensation_timeout after %s", timeout)}
	case err := <-done:
		if err != nil {
			return CompensationResult{Step: step.Name, OK: false, Error: err.Error()}
		}
		return CompensationResult{Step: step.Name, OK: true}
	}
}
