package service

import (
	"context"

	"github.com/google/uuid"
)

// traceIDKey is the private context key for trace IDs.
type traceIDKey struct{}

// WithTraceID injects a trace ID into the context. An empty traceID is
// replaced with a fresh one.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewRunID()
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext extracts the trace ID from the context, or "" when
// none is set.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewRunID generates the identifier stamped on one agentic run. It shows
// up in every log line and tool invocation belonging to that run.
func NewRunID() string {
	return uuid.NewString()
}
