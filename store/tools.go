package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// ToolFunc is the implementation of a registered tool. The returned result's
// CannedResponseFields feed template substitution in the composer.
type ToolFunc func(ctx context.Context, args map[string]string) (core.ToolResult, error)

// ToolRegistry implements core.ToolService over locally registered Go
// functions. Each service name groups its tools; resolution is by exact
// (service, tool) id.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[core.ToolID]*registeredTool
	logger logging.Logger
}

type registeredTool struct {
	def *core.ToolDefinition
	fn  ToolFunc
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger logging.Logger) *ToolRegistry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolRegistry{tools: map[core.ToolID]*registeredTool{}, logger: logger}
}

// Register adds a tool definition with its implementation.
func (r *ToolRegistry) Register(def *core.ToolDefinition, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.ID] = &registeredTool{def: def, fn: fn}
}

// ResolveTool implements core.ToolService.
func (r *ToolRegistry) ResolveTool(_ context.Context, id core.ToolID) (*core.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", id)
	}
	return t.def, nil
}

// ExecuteTool implements core.ToolService. Execution failures are returned
// as errors; the caller decides whether to retry or record a failed result.
func (r *ToolRegistry) ExecuteTool(ctx context.Context, id core.ToolID, args map[string]string) (core.ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return core.ToolResult{}, fmt.Errorf("tool %s not found", id)
	}

	start := time.Now()
	result, err := t.fn(ctx, args)
	if err != nil {
		r.logger.Error("tool execution failed tool=%s duration_ms=%d error=%v",
			id, time.Since(start).Milliseconds(), err)
		return core.ToolResult{}, err
	}
	r.logger.Debug("tool execution completed tool=%s duration_ms=%d",
		id, time.Since(start).Milliseconds())
	return result, nil
}

// StaticResult builds a ToolFunc returning fixed data, useful for seeded
// demo services and tests.
func StaticResult(data any, fields map[string]string) ToolFunc {
	return func(context.Context, map[string]string) (core.ToolResult, error) {
		raw, err := json.Marshal(data)
		if err != nil {
			return core.ToolResult{}, err
		}
		return core.ToolResult{Data: raw, CannedResponseFields: fields}, nil
	}
}
