package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// scriptedTool fails a fixed number of times before succeeding.
type scriptedTool struct {
	name      string
	failFirst int
	calls     atomic.Int32
	delay     time.Duration
	blockErr  error
}

func (s *scriptedTool) Name() string                   { return s.name }
func (s *scriptedTool) Description() string            { return "scripted" }
func (s *scriptedTool) Schema() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (s *scriptedTool) Execute(ctx context.Context, args map[string]interface{}, rc *domaintool.RunContext) (*domaintool.Result, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	n := s.calls.Add(1)
	if s.blockErr != nil {
		return nil, s.blockErr
	}
	if int(n) <= s.failFirst {
		return domaintool.Errorf("transient failure %d", n), nil
	}
	return domaintool.Success(s.name + " ok"), nil
}

// newTestExecutor records back-off sleeps instead of performing them.
func newTestExecutor(t *testing.T, tools ...domaintool.Tool) (*Executor, *[]time.Duration) {
	t.Helper()
	registry := domaintool.NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	exec := NewExecutor(registry, zap.NewNop())
	var mu sync.Mutex
	slept := &[]time.Duration{}
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return nil
	}
	return exec, slept
}

// countingMetrics records executor counter bumps.
type countingMetrics struct {
	total, success, failed, retries, modelCalls atomic.Int32
}

func (m *countingMetrics) IncToolCallTotal()               { m.total.Add(1) }
func (m *countingMetrics) IncToolCallSuccess()             { m.success.Add(1) }
func (m *countingMetrics) IncToolCallFailed()              { m.failed.Add(1) }
func (m *countingMetrics) IncToolRetry()                   { m.retries.Add(1) }
func (m *countingMetrics) IncModelCall()                   { m.modelCalls.Add(1) }
func (m *countingMetrics) RecordToolLatency(time.Duration) {}

func call(name string) domaintool.Invocation {
	return domaintool.Invocation{ToolName: name, Arguments: map[string]interface{}{}}
}

func TestExecuteAllUnknownTool(t *testing.T) {
	exec, slept := newTestExecutor(t)

	results, err := exec.ExecuteAll(context.Background(), []domaintool.Invocation{call("ghost")}, nil, 2)
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Success || results[0].Content != "Tool 'ghost' not found" {
		t.Errorf("result = %+v", results[0])
	}
	if len(*slept) != 0 {
		t.Error("unknown tool must not be retried")
	}
}

func TestExecuteAllRetriesWithLinearBackoff(t *testing.T) {
	tool := &scriptedTool{name: "flaky", failFirst: 2}
	exec, slept := newTestExecutor(t, tool)

	// Two attempts against a tool that fails twice: exhaustion.
	results, err := exec.ExecuteAll(context.Background(), []domaintool.Invocation{call("flaky")}, nil, 2)
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if results[0].Success {
		t.Fatal("expected exhaustion")
	}
	want := "Tool execution failed after 2 attempts: transient failure 2"
	if results[0].Content != want {
		t.Errorf("content = %q, want %q", results[0].Content, want)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("back-off = %v, want [1s]", *slept)
	}
}

func TestExecuteAllThirdAttemptSucceeds(t *testing.T) {
	tool := &scriptedTool{name: "flaky", failFirst: 2}
	exec, slept := newTestExecutor(t, tool)

	results, err := exec.ExecuteAll(context.Background(), []domaintool.Invocation{call("flaky")}, nil, 3)
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if !results[0].Success || results[0].Content != "flaky ok" {
		t.Errorf("result = %+v", results[0])
	}
	// Linear back-off: 1000 ms after attempt 1, 2000 ms after attempt 2.
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("back-off = %v, want [1s 2s]", *slept)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	// The slow tool finishes last; its result must still come first.
	slow := &scriptedTool{name: "slow", delay: 50 * time.Millisecond}
	fast := &scriptedTool{name: "fast"}
	exec, _ := newTestExecutor(t, slow, fast)

	results, err := exec.ExecuteAll(context.Background(),
		[]domaintool.Invocation{call("slow"), call("fast")}, nil, 2)
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if results[0].Content != "slow ok" || results[1].Content != "fast ok" {
		t.Errorf("results out of order: %q, %q", results[0].Content, results[1].Content)
	}
}

func TestExecuteAllSiblingsAreIndependent(t *testing.T) {
	broken := &scriptedTool{name: "broken", failFirst: 99}
	healthy := &scriptedTool{name: "healthy"}
	exec, _ := newTestExecutor(t, broken, healthy)

	results, err := exec.ExecuteAll(context.Background(),
		[]domaintool.Invocation{call("broken"), call("healthy")}, nil, 2)
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if results[0].Success {
		t.Error("broken tool should fail")
	}
	if !results[1].Success {
		t.Error("healthy sibling must complete despite the failure")
	}
}

func TestExecuteAllSecurityErrorIsNeverRetried(t *testing.T) {
	blocked := &scriptedTool{name: "blocked", blockErr: apperrors.NewSecurityError("Blocked cloud metadata endpoint")}
	exec, slept := newTestExecutor(t, blocked)

	_, err := exec.ExecuteAll(context.Background(), []domaintool.Invocation{call("blocked")}, nil, 3)
	if !apperrors.IsSecurity(err) {
		t.Fatalf("expected SecurityError, got %v", err)
	}
	if blocked.calls.Load() != 1 {
		t.Errorf("security violations must not be retried, got %d calls", blocked.calls.Load())
	}
	if len(*slept) != 0 {
		t.Error("no back-off for security violations")
	}
}

func TestExecuteAllCancelledContextStopsRetrying(t *testing.T) {
	broken := &scriptedTool{name: "broken", failFirst: 99}
	exec, _ := newTestExecutor(t, broken)
	// Real back-off so a regression would sleep for seconds here.
	exec.sleep = sleepBackoff

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := exec.ExecuteAll(ctx, []domaintool.Invocation{call("broken")}, nil, 3)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if broken.calls.Load() != 0 {
		t.Errorf("no attempt may start after cancellation, got %d", broken.calls.Load())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, want prompt return", elapsed)
	}
}

func TestExecuteAllCancellationInterruptsBackoff(t *testing.T) {
	broken := &scriptedTool{name: "broken", failFirst: 99}
	exec, _ := newTestExecutor(t, broken)
	exec.sleep = sleepBackoff

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Land inside the 1 s back-off after the first failed attempt.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := exec.ExecuteAll(ctx, []domaintool.Invocation{call("broken")}, nil, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if broken.calls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt before cancellation, got %d", broken.calls.Load())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("back-off ignored cancellation, took %v", elapsed)
	}
}

func TestExecutorReportsMetrics(t *testing.T) {
	tool := &scriptedTool{name: "flaky", failFirst: 2}
	exec, _ := newTestExecutor(t, tool)
	metrics := &countingMetrics{}
	exec.SetMetrics(metrics)

	results, err := exec.ExecuteAll(context.Background(), []domaintool.Invocation{call("flaky")}, nil, 3)
	if err != nil || !results[0].Success {
		t.Fatalf("ExecuteAll: %v, %+v", err, results[0])
	}
	if got := metrics.total.Load(); got != 3 {
		t.Errorf("attempts counted = %d, want 3", got)
	}
	if got := metrics.retries.Load(); got != 2 {
		t.Errorf("retries counted = %d, want 2", got)
	}
	if metrics.success.Load() != 1 || metrics.failed.Load() != 0 {
		t.Errorf("success/failed = %d/%d, want 1/0", metrics.success.Load(), metrics.failed.Load())
	}
}

func TestExecutorCountsTerminalFailures(t *testing.T) {
	exec, _ := newTestExecutor(t, &scriptedTool{name: "broken", failFirst: 99})
	metrics := &countingMetrics{}
	exec.SetMetrics(metrics)

	_, _ = exec.ExecuteAll(context.Background(),
		[]domaintool.Invocation{call("broken"), call("ghost")}, nil, 2)
	// broken: 2 attempts then exhaustion; ghost: 1 failed lookup.
	if got := metrics.failed.Load(); got != 2 {
		t.Errorf("failures counted = %d, want 2", got)
	}
	if got := metrics.total.Load(); got != 3 {
		t.Errorf("calls counted = %d, want 3", got)
	}
}

func TestExecuteAllEmptyInput(t *testing.T) {
	exec, _ := newTestExecutor(t)
	results, err := exec.ExecuteAll(context.Background(), nil, nil, 2)
	if err != nil || len(results) != 0 {
		t.Errorf("empty input: %v, %v", results, err)
	}
}
