package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationScopes(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, DefaultCorrelationID, CorrelationID(ctx))

	ctx = WithCorrelation(ctx, "Rabc")
	assert.Equal(t, "Rabc", CorrelationID(ctx))

	child := PushScope(ctx, "process")
	assert.Equal(t, "Rabc::process", CorrelationID(child))

	grandchild := PushScope(child, "matching")
	assert.Equal(t, "Rabc::process::matching", CorrelationID(grandchild))

	// The parent scope is untouched by child pushes.
	assert.Equal(t, "Rabc", CorrelationID(ctx))
}

func TestNewRootScope(t *testing.T) {
	a, b := NewRootScope(), NewRootScope()
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('R'), a[0])
}

func TestParseToolID(t *testing.T) {
	id, err := ParseToolID("inventory:check_products_availability")
	require.NoError(t, err)
	assert.Equal(t, "inventory", id.ServiceName)
	assert.Equal(t, "check_products_availability", id.ToolName)
	assert.Equal(t, "inventory:check_products_availability", id.String())

	for _, bad := range []string{"", "noservice", ":tool", "service:"} {
		_, err := ParseToolID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestToolIDAsMapKeyJSON(t *testing.T) {
	m := map[ToolID]int{{ServiceName: "svc", ToolName: "t"}: 1}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"svc:t": 1}`, string(raw))

	var back map[ToolID]int
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m, back)
}

func TestEventFilter(t *testing.T) {
	ev := Event{Kind: EventKindMessage, Source: EventSourceAIAgent}

	assert.True(t, EventFilter{}.Matches(ev))
	assert.True(t, EventFilter{Kinds: []EventKind{EventKindMessage}}.Matches(ev))
	assert.False(t, EventFilter{Kinds: []EventKind{EventKindStatus}}.Matches(ev))
	assert.True(t, EventFilter{Sources: []EventSource{EventSourceAIAgent}}.Matches(ev))
	assert.False(t, EventFilter{
		Kinds:   []EventKind{EventKindMessage},
		Sources: []EventSource{EventSourceCustomer},
	}.Matches(ev))
}

func TestAgentStateCloneIsIndependent(t *testing.T) {
	state := AgentState{
		AppliedGuidelineIDs: []GuidelineID{"g1"},
		JourneyPaths:        map[JourneyID][]GuidelineID{"j1": {"journey_node:n1"}},
	}
	clone := state.Clone()
	clone.AppliedGuidelineIDs[0] = "other"
	clone.JourneyPaths["j1"][0] = "other"

	assert.Equal(t, GuidelineID("g1"), state.AppliedGuidelineIDs[0])
	assert.Equal(t, GuidelineID("journey_node:n1"), state.JourneyPaths["j1"][0])

	assert.True(t, state.Applied("g1"))
	assert.False(t, state.Applied("g2"))
}

func TestSessionCurrentAgentState(t *testing.T) {
	s := &Session{ID: "s1"}
	assert.Empty(t, s.CurrentAgentState().AppliedGuidelineIDs)

	s.AgentStates = []AgentState{
		{AppliedGuidelineIDs: []GuidelineID{"g1"}},
		{AppliedGuidelineIDs: []GuidelineID{"g1", "g2"}},
	}
	assert.Equal(t, []GuidelineID{"g1", "g2"}, s.CurrentAgentState().AppliedGuidelineIDs)
}

func TestGuidelineClassifiers(t *testing.T) {
	observational := &Guideline{Content: GuidelineContent{Condition: "c"}}
	assert.True(t, observational.IsObservational())
	assert.False(t, observational.IsDisambiguationHead())

	head := &Guideline{
		Content:  GuidelineContent{Condition: "c"},
		Metadata: GuidelineMetadata{DisambiguationTargets: []GuidelineID{"a", "b"}},
	}
	assert.True(t, head.IsDisambiguationHead())

	actionable := &Guideline{Content: GuidelineContent{Condition: "c", Action: "do it"}}
	assert.False(t, actionable.IsObservational())
}

func TestResultHelpers(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(ErrBailed))
	assert.True(t, IsBail(ErrBailed))
}
