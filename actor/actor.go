package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/workflow-go/breaker"
	"github.com/flowforge/workflow-go/emit"
	"github.com/flowforge/workflow-go/graph"
	"github.com/flowforge/workflow-go/idempotency"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/retry"
	"github.com/flowforge/workflow-go/saga"
	"github.com/flowforge/workflow-go/store"
)

// DLQEnqueuer is the dead-letter queue's inbound surface, as seen by an
// actor that can't recover from a failure on its own. The dlq package
// implements this.
type DLQEnqueuer interface {
	Enqueue(ctx context.Context, entry *model.DLQEntry) error
}

// Deps are the shared, process-wide collaborators an actor is constructed
// with, injected by handle rather than reached for as globals.
type Deps struct {
	Store         store.Store
	Idempotent    *idempotency.Store
	Retry         *retry.Engine
	Breakers      *breaker.Registry
	Broadcaster   *emit.Broadcaster
	Tracer        *emit.Tracer
	DLQ           DLQEnqueuer
	DefaultPolicy retry.Policy
}

type sagaStepAdapter struct {
	name       string
	compensate func(ctx context.Context, state model.State) error
}

type queueItem struct {
	nodeID string
	state  model.State
}

// Actor is the per-workflow stateful executor: one instance per in-flight
// workflow, owned exclusively by the caller driving Start or Resume while
// it runs.
type Actor struct {
	id            string
	definitionKey string
	def           Definition
	g             *graph.Graph
	totalSteps    int
	originalParams model.State

	deps Deps

	mu sync.RWMutex
	wf *model.Workflow

	executed []sagaStepAdapter
}

// New constructs an actor for workflowID, running definition under
// definitionKey. The graph is materialized immediately so construction
// fails fast on a malformed definition.
func New(definitionKey, workflowID string, def Definition, deps Deps) (*Actor, error) {
	g, err := resolveGraph(def)
	if err != nil {
		return nil, err
	}
	if issues := graph.Validate(g); graph.Invalid(issues) {
		return nil, fmt.Errorf("actor: invalid graph for %s: %v", definitionKey, issues)
	}

	total := 0
	for _, n := range g.Nodes {
		if n.Kind == graph.KindStep {
			total++
		}
	}

	return &Actor{
		id:            workflowID,
		definitionKey: definitionKey,
		def:           def,
		g:             g,
		totalSteps:    total,
		deps:          deps,
	}, nil
}

// Start initializes a fresh workflow record and runs it to completion or
// failure. It is a programming error to call Start on an actor that has
// already been started; use Resume to continue one loaded from the store.
func (a *Actor) Start(ctx context.Context, params model.State) error {
	now := time.Now().UTC()
	state := a.def.InitialState(params)

	a.mu.Lock()
	a.originalParams = params
	a.wf = &model.Workflow{
		ID:               a.id,
		DefinitionKey:    a.definitionKey,
		Status:           model.StatusPending,
		StatePayload:     state,
		CurrentStepIndex: 0,
		TotalSteps:       a.totalSteps,
		StartedAt:        now,
		InsertedAt:       now,
		UpdatedAt:        now,
	}
	a.mu.Unlock()

	if err := a.deps.Store.SaveWorkflow(ctx, a.snapshot()); err != nil {
		return fmt.Errorf("actor: save initial workflow: %w", err)
	}
	a.appendEvent(ctx, model.EventWorkflowStarted, "", nil)

	a.mu.Lock()
	a.wf.Status = model.StatusRunning
	a.mu.Unlock()

	ctx, endTrace := a.startTrace(ctx)
	defer func() {
		a.mu.RLock()
		status := string(a.wf.Status)
		a.mu.RUnlock()
		endTrace(status)
	}()

	return a.runLoop(ctx, []queueItem{{nodeID: a.g.StartNode, state: state}})
}

// Resume reloads workflow from the store and continues execution from the
// graph's start node. Already-completed steps replay their cached result
// via the idempotency store (emitting step_skipped, not step_completed)
// instead of re-running, so this is safe after a crash mid-workflow.
func (a *Actor) Resume(ctx context.Context) error {
	wf, err := a.deps.Store.GetWorkflow(ctx, a.id)
	if err != nil {
		return fmt.Errorf("actor: resume: %w", err)
	}
	if wf.Status == model.StatusCompleted || wf.Status == model.StatusFailed {
		return ErrAlreadyTerminal
	}

	a.mu.Lock()
	a.wf = wf
	a.wf.Status = model.StatusRunning
	state := wf.StatePayload
	a.mu.Unlock()

	ctx, endTrace := a.startTrace(ctx)
	defer func() {
		a.mu.RLock()
		status := string(a.wf.Status)
		a.mu.RUnlock()
		endTrace(status)
	}()

	return a.runLoop(ctx, []queueItem{{nodeID: a.g.StartNode, state: state}})
}

// startTrace opens a workflow-run span if a tracer was supplied, or a
// no-op end function otherwise.
func (a *Actor) startTrace(ctx context.Context) (context.Context, func(string)) {
	if a.deps.Tracer == nil {
		return ctx, func(string) {}
	}
	return a.deps.Tracer.StartWorkflow(ctx, a.id, a.definitionKey)
}

// traceStep wraps fn with a per-attempt span, if a tracer was supplied. The
// retry engine stamps retry_attempt onto the state it hands to fn, so the
// span can tag which attempt it's covering.
func (a *Actor) traceStep(stepName string, fn retry.StepFunc) retry.StepFunc {
	if a.deps.Tracer == nil {
		return fn
	}
	return func(ctx context.Context, state model.State) (model.State, error) {
		attempt, _ := state["retry_attempt"].(int)
		ctx, end := a.deps.Tracer.StartStep(ctx, a.id, stepName, attempt)
		newState, err := fn(ctx, state)
		end(err)
		return newState, err
	}
}

// GetState returns a snapshot of the workflow record safe to hand to a
// concurrent caller (dashboard, API) while Start or Resume is still in
// progress.
func (a *Actor) GetState() model.Workflow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.wf.Clone()
}

func (a *Actor) snapshot() *model.Workflow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := a.wf.Clone()
	return &c
}

func (a *Actor) runLoop(ctx context.Context, queue []queueItem) error {
	var terminal bool
	var finalState model.State

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item := queue[0]
		queue = queue[1:]

		node := a.g.Nodes[item.nodeID]
		if node == nil {
			return a.fail(ctx, "", fmt.Errorf("actor: %w: %s", graph.ErrNodeNotFound, item.nodeID), item.state)
		}

		switch node.Kind {
		case graph.KindStep:
			newState, err := a.runStep(ctx, node, item.state)
			if err != nil {
				return a.fail(ctx, node.StepName, err, item.state)
			}
			if a.g.IsEnd(item.nodeID) {
				terminal, finalState = true, newState
				continue
			}
			for _, nid := range graph.OrderedTargets(a.g, item.nodeID) {
				queue = append(queue, queueItem{nodeID: nid, state: newState})
			}

		case graph.KindBranch, graph.KindJoin:
			nextIDs, err := graph.Resolve(a.g, item.nodeID, item.state)
			if err != nil {
				return a.fail(ctx, "", err, item.state)
			}
			if len(nextIDs) == 0 || a.g.IsEnd(item.nodeID) {
				terminal, finalState = true, item.state
				continue
			}
			for _, nid := range nextIDs {
				queue = append(queue, queueItem{nodeID: nid, state: item.state})
			}

		default:
			return a.fail(ctx, "", fmt.Errorf("actor: unknown node kind %q", node.Kind), item.state)
		}
	}

	if !terminal {
		// An empty start graph: nothing to run, nothing failed.
		a.mu.RLock()
		finalState = a.wf.StatePayload
		a.mu.RUnlock()
	}
	return a.complete(ctx, finalState)
}

// runStep executes one step node: checks for a prior-run cached result,
// appends the matching lifecycle event, and (for a fresh or
// crash-recovered attempt) hands off to the retry engine.
func (a *Actor) runStep(ctx context.Context, node *graph.Node, state model.State) (model.State, error) {
	stepName := node.StepName
	step, ok := a.def.Step(stepName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepName)
	}

	if v, ok := step.(Validator); ok {
		if err := v.Validate(state); err != nil {
			return nil, err
		}
	}

	rec, lastAttempt, err := a.latestAttempt(ctx, stepName)
	if err != nil {
		return nil, fmt.Errorf("actor: idempotency status: %w", err)
	}
	fresh := lastAttempt == 0

	if rec != nil && rec.Status == model.IdempotencyCompleted {
		a.appendEvent(ctx, model.EventStepSkipped, stepName, nil)
		merged := state.Merge(rec.Result)
		a.trackExecuted(stepName, step)
		a.advance(ctx, merged)
		return merged, nil
	}

	if fresh {
		a.appendEvent(ctx, model.EventStepStarted, stepName, nil)
	}

	// A pending record (a crash mid-attempt) resumes under the same,
	// still-open key — the side effect may not have run yet, or is itself
	// idempotent. A failed record is terminal: its key is spent, so
	// recovery must mint the next attempt number instead of reusing it.
	startAttempt := 1
	if rec != nil {
		startAttempt = lastAttempt
		if rec.Status == model.IdempotencyFailed {
			startAttempt = lastAttempt + 1
		}
	}

	breakerName := ""
	if b, ok := step.(Breakered); ok {
		breakerName = b.BreakerName()
	}
	policy := a.deps.DefaultPolicy
	if p, ok := step.(Policied); ok {
		policy = p.RetryPolicy()
	}

	started := time.Now()
	newState, stepErr := a.deps.Retry.Execute(ctx, a.id, stepName, breakerName, policy, startAttempt, state, a.traceStep(stepName, step.Execute))
	duration := time.Since(started)

	if stepErr != nil {
		a.appendEvent(ctx, model.EventStepFailed, stepName, map[string]any{
			"error":       stepErr.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return nil, stepErr
	}

	newState = a.def.HandleStepSuccess(stepName, newState)
	a.appendEvent(ctx, model.EventStepCompleted, stepName, map[string]any{"duration_ms": duration.Milliseconds()})
	a.trackExecuted(stepName, step)
	a.advance(ctx, newState)
	return newState, nil
}

// latestAttempt returns the highest-numbered idempotency record recorded
// for stepName, and the attempt number it was found under (0 if none).
// Keys are sequential (idempotency.Key(workflowID, stepName, N)), so a
// crash-recovered run can find exactly where a prior run of this step
// left off instead of assuming attempt 1 is still the latest.
func (a *Actor) latestAttempt(ctx context.Context, stepName string) (*model.Idempotency, int, error) {
	var rec *model.Idempotency
	attempt := 0
	for n := 1; ; n++ {
		r, err := a.deps.Idempotent.Status(ctx, idempotency.Key(a.id, stepName, n))
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		rec, attempt = r, n
	}
	return rec, attempt, nil
}

func (a *Actor) trackExecuted(stepName string, step Step) {
	adapter := sagaStepAdapter{name: stepName}
	if c, ok := step.(Compensator); ok {
		adapter.compensate = c.Compensate
	}
	a.executed = append(a.executed, adapter)
}

func (a *Actor) advance(ctx context.Context, state model.State) {
	a.mu.Lock()
	a.wf.CurrentStepIndex++
	a.wf.StatePayload = state
	a.wf.UpdatedAt = time.Now().UTC()
	a.mu.Unlock()

	if err := a.deps.Store.SaveWorkflow(ctx, a.snapshot()); err != nil {
		return
	}
	a.broadcast()
}

// fail runs saga compensation over every step executed so far (in
// reverse), records the failure, persists and broadcasts the terminal
// state, and hands an unrecoverable workflow to the dead-letter queue.
func (a *Actor) fail(ctx context.Context, failedStep string, stepErr error, state model.State) error {
	var compResults []saga.CompensationResult
	if len(a.executed) > 0 {
		sagaSteps := make([]saga.Step, len(a.executed))
		for i, e := range a.executed {
			sagaSteps[i] = saga.Step{Name: e.name, Compensate: e.compensate}
		}
		compResults = saga.Compensate(ctx, sagaSteps, state, saga.Parallelism{}, nil)
	}

	finalState := a.def.HandleStepFailure(failedStep, stepErr, state)
	now := time.Now().UTC()

	a.mu.Lock()
	a.wf.Status = model.StatusFailed
	a.wf.Error = stepErr.Error()
	a.wf.CompletedAt = &now
	a.wf.StatePayload = finalState
	a.wf.UpdatedAt = now
	a.mu.Unlock()

	_ = a.deps.Store.SaveWorkflow(ctx, a.snapshot())
	a.appendEvent(ctx, model.EventWorkflowFailed, failedStep, map[string]any{"error": stepErr.Error()})
	a.broadcast()

	a.enqueueDLQ(ctx, failedStep, stepErr, finalState, compResults)
	return stepErr
}

func (a *Actor) enqueueDLQ(ctx context.Context, failedStep string, stepErr error, state model.State, compResults []saga.CompensationResult) {
	if a.deps.DLQ == nil {
		return
	}

	dlqType := model.DLQWorkflowFailed
	for _, cr := range compResults {
		if !cr.OK {
			dlqType = model.DLQCompensationFailed
			break
		}
	}

	now := time.Now().UTC()
	entry := &model.DLQEntry{
		EntryID:        uuid.NewString(),
		Type:           dlqType,
		Status:         model.DLQStatusPending,
		WorkflowID:     a.id,
		DefinitionKey:  a.definitionKey,
		FailedStep:     failedStep,
		Error:          stepErr.Error(),
		Context:        model.SanitizeContext(state),
		OriginalParams: a.originalParams,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_ = a.deps.DLQ.Enqueue(ctx, entry)
}

func (a *Actor) complete(ctx context.Context, finalState model.State) error {
	now := time.Now().UTC()

	a.mu.Lock()
	a.wf.Status = model.StatusCompleted
	a.wf.CompletedAt = &now
	a.wf.StatePayload = finalState
	a.wf.CurrentStepIndex = a.wf.TotalSteps
	a.wf.UpdatedAt = now
	a.mu.Unlock()

	if err := a.deps.Store.SaveWorkflow(ctx, a.snapshot()); err != nil {
		return fmt.Errorf("actor: save completed workflow: %w", err)
	}
	a.appendEvent(ctx, model.EventWorkflowCompleted, "", nil)
	a.broadcast()
	return nil
}

func (a *Actor) appendEvent(ctx context.Context, typ model.EventType, stepName string, data map[string]any) {
	if data == nil && stepName != "" {
		data = map[string]any{"step": stepName}
	} else if stepName != "" {
		data["step"] = stepName
	}
	ev := &model.Event{
		EventID:    uuid.NewString(),
		WorkflowID: a.id,
		Type:       typ,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
	_ = a.deps.Store.AppendEvent(ctx, ev)
}

func (a *Actor) broadcast() {
	if a.deps.Broadcaster == nil {
		return
	}
	a.mu.RLock()
	wf := a.wf.Clone()
	a.mu.RUnlock()

	a.deps.Broadcaster.PublishWorkflow(emit.WorkflowUpdate{
		WorkflowID:       wf.ID,
		DefinitionKey:    wf.DefinitionKey,
		Status:           string(wf.Status),
		CurrentStepIndex: wf.CurrentStepIndex,
		TotalSteps:       wf.TotalSteps,
		StatePayload:     wf.StatePayload,
		StartedAt:        wf.StartedAt,
		CompletedAt:      wf.CompletedAt,
		Error:            wf.Error,
	})
}
