// Package engine is the top-level facade consumed by dashboards, APIs,
// and CLIs: it wires the durable store, circuit breaker registry, retry
// engine, dead-letter queue, alert dispatcher, and actor supervisor into
// one entry point and exposes the operations external callers need.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowforge/workflow-go/actor"
	"github.com/flowforge/workflow-go/alert"
	"github.com/flowforge/workflow-go/breaker"
	"github.com/flowforge/workflow-go/config"
	"github.com/flowforge/workflow-go/dlq"
	"github.com/flowforge/workflow-go/emit"
	"github.com/flowforge/workflow-go/idempotency"
	"github.com/flowforge/workflow-go/metrics"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/retry"
	"github.com/flowforge/workflow-go/store"
	"github.com/flowforge/workflow-go/supervisor"

	"golang.org/x/time/rate"
)

// Engine is the assembled workflow runtime. Build one with New and share
// it across every caller in the process.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	breakers   *breaker.Registry
	bus        *emit.Bus
	broadcast  *emit.Broadcaster
	logSink    *emit.LogSink
	dlqQueue   *dlq.Queue
	alerts     *alert.Dispatcher
	metrics    *metrics.Collector
	supervisor *supervisor.Supervisor
}

// New assembles an Engine from cfg. The store backend named by
// cfg.Store.Backend is opened immediately; an unknown backend is an error.
func New(cfg *config.Config, logger *slog.Logger, metricsCollector *metrics.Collector, extraAlertChannels ...alert.Channel) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	bus := emit.NewBus()
	broadcaster := emit.NewBroadcaster(bus)
	logSink := emit.NewLogSink(logger, bus)

	channels := []alert.Channel{alert.NewLogChannel(logger), alert.NewPubSubChannel(broadcaster)}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(cfg.Alert.WebhookURL, nil))
	}
	if metricsCollector != nil {
		channels = append(channels, alert.NewMetricsChannel(metricsCollector))
	}
	channels = append(channels, extraAlertChannels...)

	dispatcher := alert.New(logger, channels,
		alert.WithDedupeWindow(cfg.Alert.DedupeWindow),
		alert.WithRateLimit(rateOrDefault(cfg.Alert.RateLimitPerS), burstOrDefault(cfg.Alert.RateLimitBurst)),
		alert.WithRingCapacity(capOrDefault(cfg.Alert.RingCapacity)),
	)

	breakers := breaker.NewRegistry()
	idem := idempotency.New(backend)
	policy, ok := retry.NamedPolicy(cfg.Retry.DefaultPolicy)
	if !ok {
		policy, _ = retry.NamedPolicy("conservative")
	}

	eng := &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     backend,
		breakers:  breakers,
		bus:       bus,
		broadcast: broadcaster,
		logSink:   logSink,
		alerts:    dispatcher,
		metrics:   metricsCollector,
	}

	// compensationInvoker and workflowStarter only read eng.supervisor at
	// call time, once a workflow is already running, so it's safe to wire
	// them in before the supervisor itself is assigned below.
	dlqQueue := dlq.New(backend, dispatcher, &compensationInvoker{eng: eng}, &workflowStarter{eng: eng})
	eng.dlqQueue = dlqQueue

	var tracer *emit.Tracer
	if cfg.Observability.OTLPEndpoint != "" {
		name := cfg.Observability.ServiceName
		if name == "" {
			name = "workflow-engine"
		}
		tracer = emit.NewTracer(name)
	}

	deps := actor.Deps{
		Store:         backend,
		Idempotent:    idem,
		Retry:         retry.New(idem, breakers),
		Breakers:      breakers,
		Broadcaster:   broadcaster,
		Tracer:        tracer,
		DLQ:           dlqQueue,
		DefaultPolicy: policy,
	}
	eng.supervisor = supervisor.New(deps, logger)

	return eng, nil
}

func rateOrDefault(v float64) rate.Limit {
	if v <= 0 {
		return rate.Limit(10)
	}
	return rate.Limit(v)
}

func burstOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}

func capOrDefault(n int) int {
	if n <= 0 {
		return 1000
	}
	return n
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	case "mysql":
		return store.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("engine: unknown store backend %q", cfg.Backend)
	}
}

// RegisterDefinition associates definitionKey with a workflow definition
// factory. Must be called before StartWorkflow names that key.
func (e *Engine) RegisterDefinition(definitionKey string, factory supervisor.Factory) {
	e.supervisor.Register(definitionKey, factory)
}

// StartWorkflow starts a new workflow under definitionKey, or returns the
// existing handle with alreadyStarted = true if workflowID is already
// running.
func (e *Engine) StartWorkflow(definitionKey, workflowID string, params model.State) (handle *supervisor.Handle, alreadyStarted bool, err error) {
	return e.supervisor.StartWorkflow(definitionKey, workflowID, params)
}

// StopWorkflow terminates workflowID's actor.
func (e *Engine) StopWorkflow(workflowID string) error {
	return e.supervisor.StopWorkflow(workflowID)
}

// GetState returns workflowID's current snapshot.
func (e *Engine) GetState(ctx context.Context, workflowID string) (model.Workflow, error) {
	if h, ok := e.supervisor.Lookup(workflowID); ok {
		return h.GetState(), nil
	}
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	return wf.Clone(), nil
}

// ListWorkflows lists persisted workflows matching filter.
func (e *Engine) ListWorkflows(ctx context.Context, filter store.WorkflowFilter, limit int) ([]*model.Workflow, error) {
	return e.store.ListWorkflows(ctx, filter, limit)
}

// CountByStatus tallies persisted workflows by status.
func (e *Engine) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	return e.store.CountByStatus(ctx)
}

// GetEvents returns workflowID's event trace, optionally filtered by type.
func (e *Engine) GetEvents(ctx context.Context, workflowID string, filter store.EventFilter, limit int) ([]*model.Event, error) {
	return e.store.GetEvents(ctx, workflowID, filter, limit)
}

// DLQ admin surface.

func (e *Engine) ListPendingDLQ(ctx context.Context, limit int) ([]*model.DLQEntry, error) {
	return e.dlqQueue.ListPending(ctx, limit)
}

func (e *Engine) GetDLQEntry(ctx context.Context, entryID string) (*model.DLQEntry, error) {
	return e.dlqQueue.Get(ctx, entryID)
}

func (e *Engine) RetryDLQEntry(ctx context.Context, entryID string, force bool) error {
	return e.dlqQueue.Retry(ctx, entryID, force)
}

func (e *Engine) ResolveDLQEntry(ctx context.Context, entryID string, resolution model.Resolution) error {
	return e.dlqQueue.Resolve(ctx, entryID, resolution)
}

func (e *Engine) DLQStats(ctx context.Context) (map[model.DLQStatus]int, error) {
	return e.dlqQueue.Stats(ctx)
}

// RunDLQScheduler runs the dead-letter queue's retry scheduler until ctx
// is canceled. Intended to be launched in its own goroutine at startup.
func (e *Engine) RunDLQScheduler(ctx context.Context) {
	e.dlqQueue.RunScheduler(ctx, e.cfg.DLQ.SchedulerInterval)
}

// Circuit-breaker admin surface.

func (e *Engine) BreakerStatus() []breaker.Status {
	return e.breakers.Status()
}

func (e *Engine) BreakerAllow(name string) bool {
	return e.breakers.Get(name).Allow()
}

func (e *Engine) ForceBreakerState(name string, state breaker.State) {
	e.breakers.Get(name).ForceState(state)
}

func (e *Engine) ResetBreaker(name string) {
	e.breakers.Get(name).Reset()
}

// Close releases the underlying store's resources.
func (e *Engine) Close() error {
	e.logSink.Stop()
	return e.store.Close()
}

// compensationInvoker adapts the engine's registered definitions into the
// dlq package's CompensationInvoker: it rebuilds the definition that
// produced the failed workflow and calls the failed step's Compensate
// directly against the entry's persisted context.
type compensationInvoker struct {
	eng *Engine
}

func (c *compensationInvoker) InvokeCompensation(ctx context.Context, entry *model.DLQEntry) error {
	factory, ok := c.eng.supervisor.Factory(entry.DefinitionKey)
	if !ok {
		return fmt.Errorf("engine: no definition registered for %q", entry.DefinitionKey)
	}
	def := factory()
	step, ok := def.Step(entry.FailedStep)
	if !ok {
		return fmt.Errorf("engine: definition %q has no step %q", entry.DefinitionKey, entry.FailedStep)
	}
	comp, ok := step.(actor.Compensator)
	if !ok {
		return fmt.Errorf("engine: step %q has no compensation", entry.FailedStep)
	}
	return comp.Compensate(ctx, entry.Context)
}

// workflowStarter adapts the engine's own StartWorkflow into the dlq
// package's WorkflowStarter.
type workflowStarter struct {
	eng *Engine
}

func (w *workflowStarter) StartWorkflow(ctx context.Context, definitionKey, workflowID string, params model.State) (dlq.WorkflowHandle, error) {
	h, _, err := w.eng.supervisor.StartWorkflow(definitionKey, workflowID, params)
	if err != nil {
		return nil, err
	}
	return h, nil
}
