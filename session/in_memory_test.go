package session

import (
	"context"
	"testing"

	"github.com/parley-ai/parley/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreOffsetsAreGapFree(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &core.Session{ID: "s1", Mode: core.SessionModeAuto}))

	for i := 0; i < 5; i++ {
		ev, err := store.CreateEvent(ctx, "s1", core.EventKindStatus, core.EventSourceSystem, "R1", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, i, ev.Offset)
	}

	events, err := store.ListEvents(ctx, "s1", 0, core.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i, ev.Offset)
	}
}

func TestInMemoryStoreEventRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &core.Session{ID: "s1", Mode: core.SessionModeAuto}))

	payload := []byte(`{"message":"hello","tags":["preamble"]}`)
	created, err := store.CreateEvent(ctx, "s1", core.EventKindMessage, core.EventSourceAIAgent, "R1::process", payload)
	require.NoError(t, err)

	events, err := store.ListEvents(ctx, "s1", 0, core.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, created, events[0])
	assert.Equal(t, payload, []byte(events[0].Data))
	assert.Equal(t, "R1::process", events[0].CorrelationID)
}

func TestInMemoryStoreListEventsFilters(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &core.Session{ID: "s1", Mode: core.SessionModeAuto}))

	_, err := store.CreateEvent(ctx, "s1", core.EventKindMessage, core.EventSourceCustomer, "R1", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.CreateEvent(ctx, "s1", core.EventKindStatus, core.EventSourceAIAgent, "R1", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.CreateEvent(ctx, "s1", core.EventKindMessage, core.EventSourceAIAgent, "R1", []byte(`{}`))
	require.NoError(t, err)

	events, err := store.ListEvents(ctx, "s1", 0, core.EventFilter{
		Kinds:   []core.EventKind{core.EventKindMessage},
		Sources: []core.EventSource{core.EventSourceAIAgent},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Offset)

	events, err = store.ListEvents(ctx, "s1", 1, core.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestInMemoryStoreAgentStates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &core.Session{ID: "s1", Mode: core.SessionModeAuto}))

	require.NoError(t, store.AppendAgentState(ctx, "s1", core.AgentState{
		AppliedGuidelineIDs: []core.GuidelineID{"g1"},
	}))
	require.NoError(t, store.AppendAgentState(ctx, "s1", core.AgentState{
		AppliedGuidelineIDs: []core.GuidelineID{"g1", "g2"},
	}))

	session, err := store.ReadSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.AgentStates, 2)
	assert.Equal(t, []core.GuidelineID{"g1", "g2"}, session.CurrentAgentState().AppliedGuidelineIDs)
}

func TestInMemoryStoreUpdateMode(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &core.Session{ID: "s1", Mode: core.SessionModeAuto}))

	require.NoError(t, store.UpdateMode(ctx, "s1", core.SessionModeManual))
	session, err := store.ReadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionModeManual, session.Mode)

	assert.Error(t, store.UpdateMode(ctx, "missing", core.SessionModeAuto))
}

func TestInMemoryStoreUnknownSession(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.ReadSession(ctx, "missing")
	assert.Error(t, err)
	_, err = store.CreateEvent(ctx, "missing", core.EventKindStatus, core.EventSourceSystem, "R1", nil)
	assert.Error(t, err)
	_, err = store.ListEvents(ctx, "missing", 0, core.EventFilter{})
	assert.Error(t, err)
}
