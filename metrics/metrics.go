// Package metrics exposes Prometheus collectors for the workflow engine:
// active workflows by status, step latency, retry counts, circuit
// breaker state, dead-letter queue depth, and alert dispatch counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every Prometheus metric the engine emits, all
// namespaced "workflow_engine".
type Collector struct {
	activeWorkflows  *prometheus.GaugeVec
	stepLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	dlqDepth         *prometheus.GaugeVec
	alertsDispatched *prometheus.CounterVec
}

// breakerStateValue maps a circuit breaker's string state to the numeric
// value its gauge reports (closed=0, half_open=1, open=2).
var breakerStateValue = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// New registers every collector with registry and returns the handle
// used to record observations. Pass prometheus.DefaultRegisterer for the
// global registry, or a fresh prometheus.NewRegistry() for isolated tests.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		activeWorkflows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "active_workflows",
			Help:      "Current number of workflows in each status",
		}, []string{"status"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"definition_key", "step", "status"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "retries_total",
			Help:      "Cumulative count of step retry attempts",
		}, []string{"definition_key", "step", "reason"}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state per service (0=closed, 1=half_open, 2=open)",
		}, []string{"service"}),

		dlqDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "dlq_depth",
			Help:      "Current number of dead-letter entries per status",
		}, []string{"status"}),

		alertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "alerts_dispatched_total",
			Help:      "Cumulative count of alerts dispatched, by severity and type",
		}, []string{"severity", "type"}),
	}
}

// SetActiveWorkflows sets the active-workflow gauge for status to count.
func (c *Collector) SetActiveWorkflows(status string, count int) {
	c.activeWorkflows.WithLabelValues(status).Set(float64(count))
}

// RecordStepLatency observes one step's execution duration.
func (c *Collector) RecordStepLatency(definitionKey, step string, d time.Duration, status string) {
	c.stepLatency.WithLabelValues(definitionKey, step, status).Observe(float64(d.Milliseconds()))
}

// IncrementRetries counts one retry attempt for a step.
func (c *Collector) IncrementRetries(definitionKey, step, reason string) {
	c.retries.WithLabelValues(definitionKey, step, reason).Inc()
}

// SetBreakerState records a circuit breaker's current state.
func (c *Collector) SetBreakerState(service, state string) {
	v, ok := breakerStateValue[state]
	if !ok {
		v = -1
	}
	c.breakerState.WithLabelValues(service).Set(v)
}

// SetDLQDepth sets the dead-letter queue depth gauge for status.
func (c *Collector) SetDLQDepth(status string, count int) {
	c.dlqDepth.WithLabelValues(status).Set(float64(count))
}

// RecordAlert counts one dispatched alert. Satisfies alert.MetricsRecorder.
func (c *Collector) RecordAlert(severity, typ string) {
	c.alertsDispatched.WithLabelValues(severity, typ).Inc()
}
