package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/workflow-go/model"
)

// MemStore is an in-memory Store implementation. It is the default for
// tests and for configurations that don't need durability across restarts.
// Safe for concurrent use.
type MemStore struct {
	mu          sync.RWMutex
	workflows   map[string]*model.Workflow
	events      map[string][]*model.Event
	idempotency map[string]*model.Idempotency
	dlq         map[string]*model.DLQEntry
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:   make(map[string]*model.Workflow),
		events:      make(map[string][]*model.Event),
		idempotency: make(map[string]*model.Idempotency),
		dlq:         make(map[string]*model.DLQEntry),
	}
}

func (m *MemStore) SaveWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := wf.Clone()
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *MemStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return m.GetWorkflowDirty(ctx, id)
}

// GetWorkflowDirty is identical to GetWorkflow for MemStore: a RWMutex
// read lock always observes the latest committed write, so there is no
// separate fast path to offer.
func (m *MemStore) GetWorkflowDirty(_ context.Context, id string) (*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := wf.Clone()
	return &cp, nil
}

func (m *MemStore) ListWorkflows(_ context.Context, filter WorkflowFilter, limit int) ([]*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Workflow
	for _, wf := range m.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.DefinitionKey != "" && wf.DefinitionKey != filter.DefinitionKey {
			continue
		}
		cp := wf.Clone()
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	delete(m.events, id)
	return nil
}

func (m *MemStore) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.Status]int)
	for _, wf := range m.workflows {
		out[wf.Status]++
	}
	return out, nil
}

func (m *MemStore) AppendEvent(_ context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.WorkflowID] = append(m.events[ev.WorkflowID], &cp)
	return nil
}

func (m *MemStore) GetEvents(_ context.Context, workflowID string, filter EventFilter, limit int) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Event
	for _, ev := range m.events[workflowID] {
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) IdempotencyBegin(_ context.Context, key string) (*model.Idempotency, IdempotencyOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.idempotency[key]; ok {
		switch existing.Status {
		case model.IdempotencyCompleted:
			cp := *existing
			return &cp, OutcomeAlreadyCompleted, nil
		default:
			// Pending or failed: caller re-executes (crash recovery) or
			// is expected to have minted a new attempt key for a failed
			// predecessor; either way this key is already spoken for.
			cp := *existing
			return &cp, OutcomeAlreadyPending, nil
		}
	}
	rec := &model.Idempotency{Key: key, Status: model.IdempotencyPending, StartedAt: time.Now().UTC()}
	m.idempotency[key] = rec
	cp := *rec
	return &cp, OutcomeOK, nil
}

func (m *MemStore) IdempotencyComplete(_ context.Context, key string, result model.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = model.IdempotencyCompleted
	rec.CompletedAt = &now
	rec.Result = result.Clone()
	return nil
}

func (m *MemStore) IdempotencyFail(_ context.Context, key string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = model.IdempotencyFailed
	rec.CompletedAt = &now
	rec.Error = errMsg
	return nil
}

func (m *MemStore) IdempotencyStatus(_ context.Context, key string) (*model.Idempotency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemStore) IdempotencyListPending(_ context.Context) ([]*model.Idempotency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Idempotency
	for _, rec := range m.idempotency {
		if rec.Status == model.IdempotencyPending {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) IdempotencyCleanupOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.idempotency {
		if rec.Status == model.IdempotencyPending {
			continue
		}
		if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(m.idempotency, key)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) SaveDLQEntry(_ context.Context, e *model.DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.dlq[e.EntryID] = &cp
	return nil
}

func (m *MemStore) GetDLQEntry(_ context.Context, id string) (*model.DLQEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.dlq[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) ListDLQEntries(_ context.Context, status model.DLQStatus, limit int) ([]*model.DLQEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.DLQEntry
	for _, e := range m.dlq {
		if status != "" && e.Status != status {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) DLQStats(_ context.Context) (map[model.DLQStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.DLQStatus]int)
	for _, e := range m.dlq {
		out[e.Status]++
	}
	return out, nil
}

func (m *MemStore) Backup(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &Snapshot{Timestamp: time.Now().UTC()}
	for _, wf := range m.workflows {
		cp := wf.Clone()
		snap.Workflows = append(snap.Workflows, &cp)
	}
	for _, evs := range m.events {
		for _, ev := range evs {
			cp := *ev
			snap.Events = append(snap.Events, &cp)
		}
	}
	for _, rec := range m.idempotency {
		cp := *rec
		snap.Idempotent = append(snap.Idempotent, &cp)
	}
	for _, e := range m.dlq {
		cp := *e
		snap.DLQ = append(snap.DLQ, &cp)
	}
	return snap, nil
}

func (m *MemStore) Destroy(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = make(map[string]*model.Workflow)
	m.events = make(map[string][]*model.Event)
	m.idempotency = make(map[string]*model.Idempotency)
	m.dlq = make(map[string]*model.DLQEntry)
	return nil
}

func (m *MemStore) Restore(_ context.Context, snapshot *Snapshot) error {
	return restoreAtomic(snapshot, func(s *Snapshot) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.workflows = make(map[string]*model.Workflow, len(s.Workflows))
		m.events = make(map[string][]*model.Event)
		m.idempotency = make(map[string]*model.Idempotency, len(s.Idempotent))
		m.dlq = make(map[string]*model.DLQEntry, len(s.DLQ))
		for _, wf := range s.Workflows {
			cp := wf.Clone()
			m.workflows[wf.ID] = &cp
		}
		for _, ev := range s.Events {
			cp := *ev
			m.events[ev.WorkflowID] = append(m.events[ev.WorkflowID], &cp)
		}
		for _, rec := range s.Idempotent {
			cp := *rec
			m.idempotency[rec.Key] = &cp
		}
		for _, e := range s.DLQ {
			cp := *e
			m.dlq[e.EntryID] = &cp
		}
		return nil
	})
}

func (m *MemStore) Close() error { return nil }
