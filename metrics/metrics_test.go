package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetActiveWorkflowsReportsPerStatusGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetActiveWorkflows("running", 3)
	c.SetActiveWorkflows("completed", 10)

	if got := testutil.ToFloat64(c.activeWorkflows.WithLabelValues("running")); got != 3 {
		t.Fatalf("expected running=3, got %v", got)
	}
	if got := testutil.ToFloat64(c.activeWorkflows.WithLabelValues("completed")); got != 10 {
		t.Fatalf("expected completed=10, got %v", got)
	}
}

func TestIncrementRetriesAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncrementRetries("order", "charge_card", "timeout")
	c.IncrementRetries("order", "charge_card", "timeout")

	if got := testutil.ToFloat64(c.retries.WithLabelValues("order", "charge_card", "timeout")); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %v", got)
	}
}

func TestSetBreakerStateMapsKnownStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetBreakerState("payment-api", "open")
	if got := testutil.ToFloat64(c.breakerState.WithLabelValues("payment-api")); got != 2 {
		t.Fatalf("expected open=2, got %v", got)
	}

	c.SetBreakerState("payment-api", "half_open")
	if got := testutil.ToFloat64(c.breakerState.WithLabelValues("payment-api")); got != 1 {
		t.Fatalf("expected half_open=1, got %v", got)
	}
}

func TestRecordStepLatencyObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordStepLatency("order", "charge_card", 25*time.Millisecond, "success")

	count := testutil.CollectAndCount(c.stepLatency)
	if count != 1 {
		t.Fatalf("expected 1 histogram series recorded, got %d", count)
	}
}

func TestRecordAlertSatisfiesAlertMetricsRecorderInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordAlert("critical", "critical_failure")
	if got := testutil.ToFloat64(c.alertsDispatched.WithLabelValues("critical", "critical_failure")); got != 1 {
		t.Fatalf("expected 1 alert recorded, got %v", got)
	}
}

func TestSetDLQDepthReportsPerStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetDLQDepth("pending", 4)
	if got := testutil.ToFloat64(c.dlqDepth.WithLabelValues("pending")); got != 4 {
		t.Fatalf("expected pending=4, got %v", got)
	}
}
