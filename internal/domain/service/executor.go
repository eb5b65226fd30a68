package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// DefaultMaxRetries is the attempt budget per tool call.
const DefaultMaxRetries = 2

// Executor fans tool calls out in parallel and retries recoverable
// failures with a linear back-off. Results are positionally aligned with
// the input calls regardless of completion order.
type Executor struct {
	registry *domaintool.Registry
	logger   *zap.Logger
	metrics  Metrics

	// sleep is swapped in tests to avoid real back-off delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *domaintool.Registry, logger *zap.Logger) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger,
		metrics:  nopMetrics{},
		sleep:    sleepBackoff,
	}
}

// SetMetrics attaches a metrics sink. Safe to leave unset.
func (e *Executor) SetMetrics(m Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// sleepBackoff waits d or returns early with the context's error.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteAll runs every call concurrently and collects all results before
// returning. A failing call never cancels its siblings. The returned
// error is non-nil only for security violations (never retried, never
// folded into a recoverable result) and for request cancellation.
func (e *Executor) ExecuteAll(ctx context.Context, calls []domaintool.Invocation, rc *domaintool.RunContext, maxRetries int) ([]*domaintool.Result, error) {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	results := make([]*domaintool.Result, len(calls))
	callErrs := make([]error, len(calls))

	done := make(chan int, len(calls))
	for i, call := range calls {
		go func(i int, call domaintool.Invocation) {
			defer func() { done <- i }()
			result, err := e.executeOne(ctx, call, rc, maxRetries)
			if err != nil {
				callErrs[i] = err
				return
			}
			results[i] = result
		}(i, call)
	}
	for range calls {
		<-done
	}

	for _, err := range callErrs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// executeOne runs one call through the retry loop. The returned error is
// reserved for security violations and cancellation; every other failure
// becomes an unsuccessful result. No new attempt starts once the context
// is cancelled, and the back-off sleep returns early on cancellation.
func (e *Executor) executeOne(ctx context.Context, call domaintool.Invocation, rc *domaintool.RunContext, maxRetries int) (*domaintool.Result, error) {
	tool, ok := e.registry.Get(call.ToolName)
	if !ok {
		e.logger.Warn("Unknown tool requested", zap.String("tool", call.ToolName))
		e.metrics.IncToolCallTotal()
		e.metrics.IncToolCallFailed()
		return domaintool.Errorf("Tool '%s' not found", call.ToolName), nil
	}

	var lastErr string
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.metrics.IncToolCallTotal()
		start := time.Now()
		result, err := tool.Execute(ctx, call.Arguments, rc)
		e.metrics.RecordToolLatency(time.Since(start))
		if err != nil {
			if apperrors.IsSecurity(err) {
				e.logger.Warn("Tool call blocked",
					zap.String("tool", call.ToolName),
					zap.Error(err),
				)
				e.metrics.IncToolCallFailed()
				return nil, err
			}
			lastErr = err.Error()
		} else if result.Success {
			if attempt > 1 {
				e.logger.Info("Tool succeeded after retry",
					zap.String("tool", call.ToolName),
					zap.Int("attempt", attempt),
				)
			}
			e.metrics.IncToolCallSuccess()
			return result, nil
		} else {
			lastErr = result.Content
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * 1000 * time.Millisecond
			e.logger.Warn("Tool attempt failed, retrying",
				zap.String("tool", call.ToolName),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("error", lastErr),
			)
			e.metrics.IncToolRetry()
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	e.metrics.IncToolCallFailed()
	return domaintool.Errorf("Tool execution failed after %d attempts: %s", maxRetries, lastErr),
		nil
}
