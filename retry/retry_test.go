package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/workflow-go/breaker"
	"github.com/flowforge/workflow-go/idempotency"
	"github.com/flowforge/workflow-go/model"
	"github.com/flowforge/workflow-go/store"
)

func TestBackoffNeverExceedsMaxDelayEvenAtHighAttempts(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: false}
	d := Backoff(policy, 100)
	if d > policy.MaxDelay {
		t.Fatalf("backoff %v exceeded max_delay %v", d, policy.MaxDelay)
	}
}

func TestBackoffFormula(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: false}
	if got := Backoff(policy, 1); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: got %v, want 100ms", got)
	}
	if got := Backoff(policy, 3); got != 400*time.Millisecond {
		t.Fatalf("attempt 3: got %v, want 400ms", got)
	}
}

func TestRetryableClassifiesPermanentAsNeverRetryable(t *testing.T) {
	policy := Policy{Retryable: RetryableAll}
	err := NewTagged("missing_dni", errors.New("missing dni"))
	if Retryable(policy, err) {
		t.Fatal("expected permanent tag to never be retryable, even under RetryableAll")
	}
}

func TestRetryableTransientPolicyOnlyRetriesTransientTags(t *testing.T) {
	policy := Policy{Retryable: RetryableTransient}
	if !Retryable(policy, NewTagged("timeout", errors.New("t"))) {
		t.Fatal("expected timeout to be retryable under RetryableTransient")
	}
	if Retryable(policy, NewTagged("some_custom_tag", errors.New("x"))) {
		t.Fatal("expected unlisted tag to not be retryable under RetryableTransient")
	}
}

// TestExecuteTransientRetrySucceedsOnThirdAttempt mirrors scenario S2:
// a step fails twice with a transient tag then succeeds.
func TestExecuteTransientRetrySucceedsOnThirdAttempt(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy, _ := NamedPolicy("aggressive")
	policy.BaseDelay = time.Millisecond // keep the test fast

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		if calls < 3 {
			return nil, NewTagged("timeout", errors.New("timed out"))
		}
		return model.State{"ok": true}, nil
	}

	result, err := eng.Execute(context.Background(), "wf-s2", "charge_card", "", policy, 1, model.State{}, step)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

// TestExecutePermanentFailureShortCircuits mirrors scenario S3: a single
// permanent-tagged failure ends the attempt sequence immediately.
func TestExecutePermanentFailureShortCircuits(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy, _ := NamedPolicy("email")

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		return nil, NewTagged("missing_dni", errors.New("missing dni"))
	}

	_, err := eng.Execute(context.Background(), "wf-s3", "validate_customer", "", policy, 1, model.State{}, step)
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent failure, got %d", calls)
	}
}

func TestExecuteMaxAttemptsOneIsSingleAttemptNoSleep(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 1, Retryable: RetryableAll, BaseDelay: time.Hour}

	calls := 0
	start := time.Now()
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		return nil, NewTagged("timeout", errors.New("timed out"))
	}
	_, err := eng.Execute(context.Background(), "wf-single", "step", "", policy, 1, model.State{}, step)
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected no sleep when max_attempts=1 exhausts immediately")
	}
}

func TestExecuteReplaysCompletedIdempotencyKeyWithoutReexecuting(t *testing.T) {
	backend := store.NewMemStore()
	idem := idempotency.New(backend)
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 1, Retryable: RetryableAll}

	// Pre-seed a completed record for attempt 1, simulating a prior
	// successful run whose idempotency record survives a restart.
	key := idempotency.Key("wf-replay", "charge_card", 1)
	_, _, _ = idem.Begin(context.Background(), key)
	_ = idem.Complete(context.Background(), key, model.State{"cached": true})

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		return model.State{"cached": false}, nil
	}
	result, err := eng.Execute(context.Background(), "wf-replay", "charge_card", "", policy, 1, model.State{}, step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected step not re-executed, called %d times", calls)
	}
	if result["cached"] != true {
		t.Fatalf("expected cached result, got %+v", result)
	}
}

// TestExecuteStartAttemptSkipsAlreadyFailedKey mirrors a crash recovered
// mid-retry: attempt 1's key is already terminally failed, so Execute
// must mint attempt 2's key rather than reusing attempt 1's.
func TestExecuteStartAttemptSkipsAlreadyFailedKey(t *testing.T) {
	backend := store.NewMemStore()
	idem := idempotency.New(backend)
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 3, Retryable: RetryableAll, BaseDelay: time.Millisecond}

	failedKey := idempotency.Key("wf-resume", "charge_card", 1)
	_, _, _ = idem.Begin(context.Background(), failedKey)
	_ = idem.Fail(context.Background(), failedKey, "timeout")

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		if attempt, _ := state["retry_attempt"].(int); attempt != 2 {
			t.Fatalf("expected attempt 2, got %d", attempt)
		}
		return model.State{"ok": true}, nil
	}

	result, err := eng.Execute(context.Background(), "wf-resume", "charge_card", "", policy, 2, model.State{}, step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call starting from attempt 2, got %d", calls)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}

	rec1, err := idem.Status(context.Background(), failedKey)
	if err != nil {
		t.Fatalf("status attempt 1: %v", err)
	}
	if rec1.Status != model.IdempotencyFailed {
		t.Fatalf("expected attempt 1's key to remain failed, not reused; got %s", rec1.Status)
	}
}

// TestExecuteStartAttemptBeyondMaxAttemptsFailsWithoutCallingStep covers a
// crash that happened after every attempt under the policy was already
// spent: there is nothing left to retry.
func TestExecuteStartAttemptBeyondMaxAttemptsFailsWithoutCallingStep(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 2, Retryable: RetryableAll}

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		return model.State{}, nil
	}

	_, err := eng.Execute(context.Background(), "wf-exhausted", "step", "", policy, 3, model.State{}, step)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no call when startAttempt already exceeds max_attempts, got %d", calls)
	}
}

// TestExecuteRecoversStepPanicAsRetryableException covers a step that
// panics instead of returning an error: the panic must not escape
// Execute, and must be retried like any other transient failure.
func TestExecuteRecoversStepPanicAsRetryableException(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 2, Retryable: RetryableAll, BaseDelay: time.Millisecond}

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		if calls == 1 {
			panic("nil pointer somewhere")
		}
		return model.State{"ok": true}, nil
	}

	result, err := eng.Execute(context.Background(), "wf-panic", "risky_step", "", policy, 1, model.State{}, step)
	if err != nil {
		t.Fatalf("expected recovered panic to be retried to success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (panic then success), got %d", calls)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestExecuteRecoversStepPanicAsPermanentWhenUnretryable mirrors a policy
// that does not classify "exception" as retryable: the panic still must
// not escape Execute, but the attempt sequence ends after one try.
func TestExecuteRecoversStepPanicAsPermanentWhenUnretryable(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	eng := New(idem, nil)
	policy := Policy{MaxAttempts: 3, Retryable: RetryableTransient, Tags: map[string]bool{"timeout": true}}

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		panic("boom")
	}

	_, err := eng.Execute(context.Background(), "wf-panic-2", "risky_step", "", policy, 1, model.State{}, step)
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
	if Tag(err) != "exception" {
		t.Fatalf("expected exception tag, got %s", Tag(err))
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt since policy.Tags doesn't list exception, got %d", calls)
	}
}

func TestExecuteCircuitOpenShortCircuitsWithoutCallingStep(t *testing.T) {
	idem := idempotency.New(store.NewMemStore())
	registry := breaker.NewRegistry()
	registry.Configure("ext", breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour})
	eng := New(idem, registry)
	policy, _ := NamedPolicy("api")

	cb := registry.Get("ext")
	cb.ReportFailure() // opens the breaker before Execute runs

	calls := 0
	step := func(ctx context.Context, state model.State) (model.State, error) {
		calls++
		return model.State{}, nil
	}
	_, err := eng.Execute(context.Background(), "wf-cb", "call_api", "ext", policy, 1, model.State{}, step)
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("expected step not called while circuit is open")
	}
}
