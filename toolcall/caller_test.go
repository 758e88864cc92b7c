package toolcall

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/internal/testutil"
	"github.com/parley-ai/parley/session"
	"github.com/parley-ai/parley/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callerPolicy struct{}

func (callerPolicy) ToolCallingTemperatures() []float64 { return []float64{0.15, 0.3, 0.1} }
func (callerPolicy) RetryBackoff() []time.Duration      { return []time.Duration{time.Millisecond} }
func (callerPolicy) MaxHistoryForToolCalls() int        { return 10 }
func (callerPolicy) MaxToolExecutionAttempts() int      { return 3 }

var inventoryTool = &core.ToolDefinition{
	ID:          core.ToolID{ServiceName: "inventory", ToolName: "check_products_availability"},
	Description: "Check whether products are in stock",
	Parameters: []core.ToolParameter{
		{Name: "products", Type: "string", Required: true, Description: "the products to check"},
	},
}

// inferenceResponse builds the schematic tool inference payload.
func inferenceResponse(calls ...map[string]any) map[string]any {
	return map[string]any{"tool_calls_for_candidate_tool": calls}
}

func applicableCall(args map[string]any) map[string]any {
	var evaluations []map[string]any
	for name, v := range args {
		evaluations = append(evaluations, map[string]any{
			"parameter_name": name,
			"state":          "valid",
			"value":          v,
			"is_optional":    false,
		})
	}
	return map[string]any{
		"applicability_rationale": "requested by rule",
		"is_applicable":           true,
		"argument_evaluations":    evaluations,
	}
}

type callerFixture struct {
	caller   *Caller
	emitter  emit.Emitter
	sessions core.SessionStore
	registry *store.InMemory
	tools    *store.ToolRegistry
	gen      *generation.MockGenerator
}

func newCallerFixture(t *testing.T) *callerFixture {
	t.Helper()
	sessions := session.NewInMemoryStore()
	testutil.NewSession(t, sessions, "s1", "a1")

	registry := store.NewInMemory()
	tools := store.NewToolRegistry(nil)
	gen := generation.NewMockGenerator()

	caller := NewCaller(func(o *Options) {
		o.ToolService = tools
		o.Associations = registry
		o.NodeAssociations = registry
		o.Generator = gen
		o.Policy = callerPolicy{}
	})
	return &callerFixture{
		caller:   caller,
		emitter:  emit.NewPublisher(sessions, "s1", core.EventSourceAIAgent),
		sessions: sessions,
		registry: registry,
		tools:    tools,
		gen:      gen,
	}
}

func (f *callerFixture) events(t *testing.T) []core.Event {
	t.Helper()
	events, err := f.sessions.ListEvents(context.Background(), "s1", 0, core.EventFilter{})
	require.NoError(t, err)
	return events
}

func stockMatch() []core.GuidelineMatch {
	return []core.GuidelineMatch{{
		Guideline: &core.Guideline{
			ID:      "stock",
			Content: core.GuidelineContent{Condition: "asks about stock", Action: "check availability"},
			Enabled: true,
		},
		Score: 0.9,
	}}
}

func TestCallToolsExecutesApplicableCall(t *testing.T) {
	f := newCallerFixture(t)
	f.tools.Register(inventoryTool, store.StaticResult(
		map[string]any{"laptop": 12},
		map[string]string{"availability": "12 in stock"},
	))
	f.registry.AssociateGuidelineTool("stock", inventoryTool.ID)
	f.gen.Default(func(string, generation.Hints) (any, error) {
		return inferenceResponse(applicableCall(map[string]any{"products": "laptop"})), nil
	})

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, inventoryTool.ID, out.ToolCalls[0].ToolID)
	assert.Equal(t, map[string]string{"products": "laptop"}, out.ToolCalls[0].Arguments)
	assert.Equal(t, "12 in stock", out.ToolCalls[0].Result.CannedResponseFields["availability"])
	assert.True(t, out.Insights.IsEmpty())

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventKindStatus, events[0].Kind)
	status, err := core.DecodeStatusEventData(events[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, status.Status)
	assert.Equal(t, "Fetching data", status.Data.Stage)
	assert.Equal(t, core.EventKindTool, events[1].Kind)
}

func TestCallToolsMissingRequiredParameterSkipsExecution(t *testing.T) {
	f := newCallerFixture(t)
	executed := false
	f.tools.Register(inventoryTool, func(context.Context, map[string]string) (core.ToolResult, error) {
		executed = true
		return core.ToolResult{}, nil
	})
	f.registry.AssociateGuidelineTool("stock", inventoryTool.ID)
	f.gen.Default(func(string, generation.Hints) (any, error) {
		return inferenceResponse(map[string]any{
			"applicability_rationale": "rule wants it",
			"is_applicable":           true,
			"argument_evaluations": []map[string]any{
				{"parameter_name": "products", "state": "missing", "is_optional": false},
			},
		}), nil
	})

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)

	assert.False(t, executed)
	assert.Empty(t, out.ToolCalls)
	require.Len(t, out.Insights.MissingData, 1)
	assert.Equal(t, "products", out.Insights.MissingData[0].Parameter)
	assert.Equal(t, 0.9, out.Insights.MissingData[0].Precedence)
}

func TestCallToolsSkipsAlreadyStagedCall(t *testing.T) {
	f := newCallerFixture(t)
	executed := false
	f.tools.Register(inventoryTool, func(context.Context, map[string]string) (core.ToolResult, error) {
		executed = true
		return core.ToolResult{}, nil
	})
	f.registry.AssociateGuidelineTool("stock", inventoryTool.ID)
	f.gen.Default(func(string, generation.Hints) (any, error) {
		call := applicableCall(map[string]any{"products": "laptop"})
		call["same_call_is_already_staged"] = true
		return inferenceResponse(call), nil
	})

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
		StagedCalls: []core.ToolCall{{
			ToolID:    inventoryTool.ID,
			Arguments: map[string]string{"products": "laptop"},
		}},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)

	assert.False(t, executed)
	assert.Empty(t, out.ToolCalls)
}

func TestCallToolsExecutionRetriesThenRecordsFailure(t *testing.T) {
	f := newCallerFixture(t)
	attempts := 0
	f.tools.Register(inventoryTool, func(context.Context, map[string]string) (core.ToolResult, error) {
		attempts++
		return core.ToolResult{}, fmt.Errorf("backend down")
	})
	f.registry.AssociateGuidelineTool("stock", inventoryTool.ID)
	f.gen.Default(func(string, generation.Hints) (any, error) {
		return inferenceResponse(applicableCall(map[string]any{"products": "laptop"})), nil
	})

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	require.Len(t, out.ToolCalls, 1)
	assert.Contains(t, out.ToolCalls[0].Result.Error, "backend down")

	// The tool event is still emitted so the composer can mention the failure.
	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventKindTool, events[1].Kind)
}

func TestCallToolsNoAssociationsMakesNoEmissions(t *testing.T) {
	f := newCallerFixture(t)

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)

	assert.Empty(t, out.ToolCalls)
	assert.Zero(t, f.gen.CallCount())
	assert.Empty(t, f.events(t))
}

func TestCallToolsNotApplicableSkips(t *testing.T) {
	f := newCallerFixture(t)
	f.tools.Register(inventoryTool, store.StaticResult(nil, nil))
	f.registry.AssociateGuidelineTool("stock", inventoryTool.ID)
	f.gen.Default(func(string, generation.Hints) (any, error) {
		return inferenceResponse(map[string]any{
			"applicability_rationale": "not relevant",
			"is_applicable":           false,
			"argument_evaluations":    []map[string]any{},
		}), nil
	})

	out, err := f.caller.CallTools(context.Background(), Context{
		Agent: &core.Agent{ID: "a1", Name: "Testbot"},
	}, stockMatch(), f.emitter)
	require.NoError(t, err)
	assert.Empty(t, out.ToolCalls)
}
