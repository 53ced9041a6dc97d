package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gyre-dev/gyre/internal/action"
	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/tools"
)

// fakeInvoker scripts per-tool behavior and counts invocations.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   map[string]int
	handler map[string]func(ctx context.Context, args map[string]any) (string, error)
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:   make(map[string]int),
		handler: make(map[string]func(ctx context.Context, args map[string]any) (string, error)),
	}
}

func (f *fakeInvoker) on(name string, h func(ctx context.Context, args map[string]any) (string, error)) {
	f.handler[name] = h
}

func (f *fakeInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	f.calls[name]++
	h, ok := f.handler[name]
	f.mu.Unlock()
	if !ok {
		return "", &tools.NotFoundError{Tool: name}
	}
	return h(ctx, args)
}

func (f *fakeInvoker) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func newTestExecutor(inv tools.Invoker, cfg breaker.Config, opts ...Option) *Executor {
	e := New(inv, breaker.NewRegistry(cfg, nil), nil, opts...)
	e.sleepFunc = func(context.Context, time.Duration) {}
	return e
}

func TestExecute_Success(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("echo", func(_ context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("%v", args["text"]), nil
	})
	e := newTestExecutor(inv, breaker.Config{})

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "echo", map[string]any{"text": "hello"}),
	})
	if len(obs) != 1 {
		t.Fatalf("observations = %d, want 1", len(obs))
	}
	if !obs[0].OK() || obs[0].Payload != "hello" {
		t.Errorf("observation = %+v", obs[0])
	}
	if obs[0].ActionID != "a1" {
		t.Errorf("action id = %q", obs[0].ActionID)
	}
}

func TestExecute_SkipsFinalAnswers(t *testing.T) {
	e := newTestExecutor(newFakeInvoker(), breaker.Config{})
	obs := e.Execute(context.Background(), []action.Proposed{
		action.FinalAnswer("a1", "done"),
	})
	if len(obs) != 0 {
		t.Errorf("observations = %d, want 0", len(obs))
	}
}

func TestExecute_PreservesInputOrder(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("slow", func(ctx context.Context, _ map[string]any) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow done", nil
	})
	inv.on("fast", func(_ context.Context, _ map[string]any) (string, error) {
		return "fast done", nil
	})
	e := newTestExecutor(inv, breaker.Config{}, WithMaxConcurrent(2))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "slow", nil),
		action.ToolCall("a2", "fast", nil),
	})
	if len(obs) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs))
	}
	if obs[0].ActionID != "a1" || obs[1].ActionID != "a2" {
		t.Errorf("order not preserved: %q, %q", obs[0].ActionID, obs[1].ActionID)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	e := newTestExecutor(newFakeInvoker(), breaker.Config{})
	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "missing", nil),
	})
	if obs[0].OK() {
		t.Fatal("unknown tool succeeded")
	}
	if !strings.Contains(obs[0].Err, "not registered") {
		t.Errorf("error = %q", obs[0].Err)
	}
	if obs[0].Retriable {
		t.Error("tool_not_found marked retriable")
	}
}

func TestExecute_Timeout(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("hang", func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := newTestExecutor(inv, breaker.Config{}, WithPerToolTimeout(10*time.Millisecond))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "hang", nil),
	})
	if obs[0].OK() {
		t.Fatal("hung tool succeeded")
	}
	if !strings.Contains(obs[0].Err, "timed out") {
		t.Errorf("error = %q", obs[0].Err)
	}
}

func TestExecute_BreakerShortCircuits(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("flaky", func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 2, Cooldown: time.Hour})

	call := []action.Proposed{action.ToolCall("a1", "flaky", nil)}
	ctx := context.Background()
	e.Execute(ctx, call)
	e.Execute(ctx, call) // trips the breaker

	obs := e.Execute(ctx, call)
	if !strings.Contains(obs[0].Err, "circuit breaker open") {
		t.Errorf("error = %q", obs[0].Err)
	}
	if !obs[0].Synthetic {
		t.Error("short-circuit observation not marked synthetic")
	}
	if got := inv.count("flaky"); got != 2 {
		t.Errorf("tool invoked %d times, want 2 (third call must not reach it)", got)
	}
}

func TestRecovery_RetrySucceedsOnSecondAttempt(t *testing.T) {
	inv := newFakeInvoker()
	var n atomic.Int32
	inv.on("flaky", func(_ context.Context, _ map[string]any) (string, error) {
		if n.Add(1) == 1 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithDefaultRecovery(Recovery{Strategy: StrategyRetry, MaxRetries: 2}))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "flaky", nil),
	})
	if !obs[0].OK() || obs[0].Payload != "recovered" {
		t.Errorf("observation = %+v", obs[0])
	}
	if got := inv.count("flaky"); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
}

func TestRecovery_RetryGivesUp(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("broken", func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("always fails")
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithDefaultRecovery(Recovery{Strategy: StrategyRetry, MaxRetries: 2}))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "broken", nil),
	})
	if obs[0].OK() {
		t.Fatal("expected failure")
	}
	if got := inv.count("broken"); got != 3 {
		t.Errorf("invocations = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestRecovery_Fallback(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("primary", func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("primary down")
	})
	inv.on("secondary", func(_ context.Context, _ map[string]any) (string, error) {
		return "from secondary", nil
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithToolRecovery("primary", Recovery{Strategy: StrategyFallback, FallbackTool: "secondary"}))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "primary", nil),
	})
	if !obs[0].OK() || obs[0].Payload != "from secondary" {
		t.Errorf("observation = %+v", obs[0])
	}
	if obs[0].Tool != "secondary" {
		t.Errorf("observation tool = %q, want fallback name", obs[0].Tool)
	}
}

func TestRecovery_CachedResult(t *testing.T) {
	inv := newFakeInvoker()
	var fail atomic.Bool
	inv.on("lookup", func(_ context.Context, _ map[string]any) (string, error) {
		if fail.Load() {
			return "", errors.New("backend gone")
		}
		return "fresh value", nil
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithDefaultRecovery(Recovery{Strategy: StrategyCachedResult, CacheTTL: time.Hour}))

	call := []action.Proposed{action.ToolCall("a1", "lookup", map[string]any{"q": "x"})}
	ctx := context.Background()

	if obs := e.Execute(ctx, call); !obs[0].OK() {
		t.Fatalf("priming call failed: %+v", obs[0])
	}
	fail.Store(true)
	obs := e.Execute(ctx, call)
	if !obs[0].OK() || obs[0].Payload != "fresh value" {
		t.Errorf("cached observation = %+v", obs[0])
	}
	if !obs[0].Synthetic {
		t.Error("cached result not marked synthetic")
	}
}

func TestRecovery_CachedResultMissesDifferentArgs(t *testing.T) {
	inv := newFakeInvoker()
	var fail atomic.Bool
	inv.on("lookup", func(_ context.Context, _ map[string]any) (string, error) {
		if fail.Load() {
			return "", errors.New("backend gone")
		}
		return "value", nil
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithDefaultRecovery(Recovery{Strategy: StrategyCachedResult, CacheTTL: time.Hour}))

	ctx := context.Background()
	e.Execute(ctx, []action.Proposed{action.ToolCall("a1", "lookup", map[string]any{"q": "x"})})
	fail.Store(true)
	obs := e.Execute(ctx, []action.Proposed{action.ToolCall("a2", "lookup", map[string]any{"q": "y"})})
	if obs[0].OK() {
		t.Errorf("cache hit for different arguments: %+v", obs[0])
	}
}

func TestRecovery_Escalate(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("danger", func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("unexpected state")
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithToolRecovery("danger", Recovery{Strategy: StrategyEscalate}))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "danger", nil),
	})
	if !strings.Contains(obs[0].Err, "escalated for human review") {
		t.Errorf("error = %q", obs[0].Err)
	}
	if !obs[0].Synthetic {
		t.Error("escalation not marked synthetic")
	}
}

func TestRecovery_DeadLetter(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("doomed", func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("fatal")
	})
	e := newTestExecutor(inv, breaker.Config{FailureThreshold: 10},
		WithDefaultRecovery(Recovery{Strategy: StrategyDeadLetter}))

	obs := e.Execute(context.Background(), []action.Proposed{
		action.ToolCall("a1", "doomed", map[string]any{"k": "v"}),
	})
	if obs[0].OK() || obs[0].Retriable {
		t.Errorf("observation = %+v", obs[0])
	}
	dl := e.DeadLetters()
	if len(dl) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl))
	}
	if dl[0].Tool != "doomed" || dl[0].ActionID != "a1" {
		t.Errorf("dead letter = %+v", dl[0])
	}
}

func TestRecovery_Validate(t *testing.T) {
	if err := (Recovery{Strategy: "bogus"}).Validate(); err == nil {
		t.Error("bogus strategy accepted")
	}
	if err := (Recovery{Strategy: StrategyFallback}).Validate(); err == nil {
		t.Error("fallback without fallback_tool accepted")
	}
	if err := (Recovery{Strategy: StrategyRetry}).Validate(); err != nil {
		t.Errorf("retry rejected: %v", err)
	}
}

func TestExecute_ConcurrentCallsAllComplete(t *testing.T) {
	inv := newFakeInvoker()
	inv.on("work", func(_ context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("done %v", args["n"]), nil
	})
	e := newTestExecutor(inv, breaker.Config{}, WithMaxConcurrent(3))

	var actions []action.Proposed
	for i := range 10 {
		actions = append(actions, action.ToolCall(fmt.Sprintf("a%d", i), "work", map[string]any{"n": i}))
	}
	obs := e.Execute(context.Background(), actions)
	if len(obs) != 10 {
		t.Fatalf("observations = %d, want 10", len(obs))
	}
	for i, o := range obs {
		if !o.OK() {
			t.Errorf("call %d failed: %+v", i, o)
		}
	}
}
