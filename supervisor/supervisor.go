// Package supervisor spawns, names, monitors, and restarts workflow
// actors: a dynamic supervisor with a unique-key registry mapping
// workflow id to actor handle.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowforge/workflow-go/actor"
	"github.com/flowforge/workflow-go/model"
)

// ErrUnknownDefinition is returned when StartWorkflow names a
// definition_key nothing has Register-ed.
var ErrUnknownDefinition = errors.New("supervisor: unknown definition_key")

// ErrWorkflowNotFound is returned by StopWorkflow for an id with no
// registered actor.
var ErrWorkflowNotFound = errors.New("supervisor: workflow not found")

// restartBackoff is the pause between an abnormal exit and the next
// restart attempt, so a crash loop doesn't spin hot.
const restartBackoff = 200 * time.Millisecond

// Factory builds a fresh Definition for one workflow run. Supervisor calls
// it once per StartWorkflow, never reusing a Definition instance across
// workflows, so step closures can't leak state between runs.
type Factory func() actor.Definition

// Handle is a live or terminated workflow's supervision record.
type Handle struct {
	WorkflowID    string
	DefinitionKey string

	act           *actor.Actor
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested atomic.Bool

	mu      sync.Mutex
	lastErr error
}

// GetState returns the handle's current workflow snapshot.
func (h *Handle) GetState() model.Workflow { return h.act.GetState() }

// Err returns the most recent error observed running this actor, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Wait blocks until the actor's supervision loop exits (terminal status or
// a graceful Stop), then returns the last recorded error.
func (h *Handle) Wait() error {
	<-h.done
	return h.Err()
}

func (h *Handle) recordErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// Supervisor owns every live workflow actor, restarting one on an
// abnormal exit (a panic, or a termination that left the workflow
// short of a terminal status) but never on clean completion or failure.
type Supervisor struct {
	deps   actor.Deps
	logger *slog.Logger

	mu      sync.Mutex
	defs    map[string]Factory
	handles map[string]*Handle
}

// New returns a Supervisor sharing deps across every actor it spawns.
func New(deps actor.Deps, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		deps:    deps,
		logger:  logger,
		defs:    make(map[string]Factory),
		handles: make(map[string]*Handle),
	}
}

// Register associates definitionKey with a Definition factory. Must be
// called before any StartWorkflow names that key.
func (s *Supervisor) Register(definitionKey string, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[definitionKey] = factory
}

// Factory returns the registered factory for definitionKey, if any. Used
// by collaborators (the dead-letter queue's compensation retry path)
// that need to rebuild a Definition outside the normal StartWorkflow path.
func (s *Supervisor) Factory(definitionKey string) (Factory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.defs[definitionKey]
	return f, ok
}

// StartWorkflow creates and runs a new actor for workflowID under
// definitionKey. If workflowID is already registered, the existing
// handle is returned with alreadyStarted = true instead of an error.
func (s *Supervisor) StartWorkflow(definitionKey, workflowID string, params model.State) (h *Handle, alreadyStarted bool, err error) {
	s.mu.Lock()
	if existing, ok := s.handles[workflowID]; ok {
		s.mu.Unlock()
		return existing, true, nil
	}

	factory, ok := s.defs[definitionKey]
	if !ok {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionKey)
	}

	def := factory()
	act, buildErr := actor.New(definitionKey, workflowID, def, s.deps)
	if buildErr != nil {
		s.mu.Unlock()
		return nil, false, buildErr
	}

	actorCtx, cancel := context.WithCancel(context.Background())
	handle := &Handle{
		WorkflowID:    workflowID,
		DefinitionKey: definitionKey,
		act:           act,
		ctx:           actorCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	s.handles[workflowID] = handle
	s.mu.Unlock()

	go s.supervise(handle, params)
	return handle, false, nil
}

// StopWorkflow terminates workflowID's actor cleanly: the in-flight step
// finishes or is interrupted at its next cancellable suspension point, and
// the registration is freed either way.
func (s *Supervisor) StopWorkflow(workflowID string) error {
	s.mu.Lock()
	h, ok := s.handles[workflowID]
	if !ok {
		s.mu.Unlock()
		return ErrWorkflowNotFound
	}
	delete(s.handles, workflowID)
	s.mu.Unlock()

	h.stopRequested.Store(true)
	h.cancel()
	<-h.done
	return nil
}

// Lookup returns workflowID's handle, if one is registered.
func (s *Supervisor) Lookup(workflowID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[workflowID]
	return h, ok
}

// List returns every currently registered handle.
func (s *Supervisor) List() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

func (s *Supervisor) supervise(h *Handle, params model.State) {
	defer close(h.done)

	err := s.runGuarded(func() error { return h.act.Start(h.ctx, params) })
	h.recordErr(err)

	for s.shouldRestart(h) {
		s.logger.Warn("restarting workflow actor after abnormal exit",
			"workflow_id", h.WorkflowID, "definition_key", h.DefinitionKey, "error", err)
		time.Sleep(restartBackoff)
		if h.stopRequested.Load() {
			return
		}
		err = s.runGuarded(func() error { return h.act.Resume(h.ctx) })
		h.recordErr(err)
	}
}

// runGuarded traps a panic inside fn and converts it to an error, so a bug
// in a user-supplied step can't take the whole process down with it.
func (s *Supervisor) runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: recovered panic: %v", r)
		}
	}()
	return fn()
}

// shouldRestart reports whether h's actor exited abnormally: not stopped
// on purpose, and not sitting in a terminal status.
func (s *Supervisor) shouldRestart(h *Handle) bool {
	if h.stopRequested.Load() {
		return false
	}
	switch h.act.GetState().Status {
	case model.StatusCompleted, model.StatusFailed:
		return false
	default:
		return true
	}
}
