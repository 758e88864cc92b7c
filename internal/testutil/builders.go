// Package testutil provides builders shared by package tests: seeded
// sessions, event helpers and guideline factories.
package testutil

import (
	"context"
	"testing"

	"github.com/parley-ai/parley/core"
)

// NewSession creates an auto-mode session in the store and fails the test
// on error.
func NewSession(t *testing.T, store core.SessionStore, id core.SessionID, agentID core.AgentID) *core.Session {
	t.Helper()
	s := &core.Session{
		ID:         id,
		AgentID:    agentID,
		CustomerID: "customer-1",
		Mode:       core.SessionModeAuto,
	}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

// CustomerMessage appends a customer message event.
func CustomerMessage(t *testing.T, store core.SessionStore, sessionID core.SessionID, text string) core.Event {
	t.Helper()
	data, err := core.MarshalEventData(core.MessageEventData{
		Message:     text,
		Participant: core.Participant{ID: "customer-1", DisplayName: "Customer"},
	})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	ev, err := store.CreateEvent(context.Background(), sessionID,
		core.EventKindMessage, core.EventSourceCustomer, "Rtest", data)
	if err != nil {
		t.Fatalf("append customer message: %v", err)
	}
	return ev
}

// Guideline builds an enabled actionable guideline.
func Guideline(id core.GuidelineID, condition, action string) *core.Guideline {
	return &core.Guideline{
		ID:      id,
		Content: core.GuidelineContent{Condition: condition, Action: action},
		Enabled: true,
	}
}

// Agent builds a fluid-mode agent with the given iteration budget.
func Agent(id core.AgentID, maxIterations int) *core.Agent {
	return &core.Agent{
		ID:                  id,
		Name:                "Testbot",
		Description:         "a helpful assistant",
		CompositionMode:     core.CompositionModeFluid,
		MaxEngineIterations: maxIterations,
	}
}

// StatusValues extracts the status sequence of all status events, in order.
func StatusValues(t *testing.T, events []core.Event) []core.Status {
	t.Helper()
	var out []core.Status
	for _, ev := range events {
		if ev.Kind != core.EventKindStatus {
			continue
		}
		data, err := core.DecodeStatusEventData(ev)
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		out = append(out, data.Status)
	}
	return out
}

// MessageTexts extracts the message texts of all message events from the
// given source, in order.
func MessageTexts(t *testing.T, events []core.Event, source core.EventSource) []string {
	t.Helper()
	var out []string
	for _, ev := range events {
		if ev.Kind != core.EventKindMessage || ev.Source != source {
			continue
		}
		data, err := core.DecodeMessageEventData(ev)
		if err != nil {
			t.Fatalf("decode message: %v", err)
		}
		out = append(out, data.Message)
	}
	return out
}
