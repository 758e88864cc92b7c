package core

import (
	"context"
	"strings"
)

// Correlation ids are hierarchical scope paths like "R4f2a::process::matching".
// Each external request establishes a root scope; nested operations append
// "::<label>" segments. The active scope travels on the context.Context value
// threaded through every call; it is never stashed in global mutable state.

type correlationKey struct{}

// DefaultCorrelationID is returned when no scope was established.
const DefaultCorrelationID = "<main>"

// NewRootScope mints a fresh request-root correlation id.
func NewRootScope() string {
	id := NewID()
	return "R" + strings.ReplaceAll(id, "-", "")[:10]
}

// WithCorrelation returns a context carrying the given correlation scope.
func WithCorrelation(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, correlationKey{}, scope)
}

// PushScope derives a child context whose correlation id descends from the
// parent's by appending "::label".
func PushScope(ctx context.Context, label string) context.Context {
	return WithCorrelation(ctx, CorrelationID(ctx)+"::"+label)
}

// CorrelationID returns the active correlation scope, or
// DefaultCorrelationID when none is set.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultCorrelationID
}
