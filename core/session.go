package core

import (
	"context"
	"time"
)

// SessionID uniquely identifies a session.
type SessionID string

// SessionMode controls whether the engine produces replies automatically.
type SessionMode string

const (
	// SessionModeAuto lets the engine reply to every customer message.
	SessionModeAuto SessionMode = "auto"
	// SessionModeManual short-circuits processing; a human operator replies.
	SessionModeManual SessionMode = "manual"
)

// AgentState is a per-cycle snapshot of the engine's cross-turn memory: the
// guidelines it considers applied and, per journey, the path of journey-node
// guideline ids matched so far ("" for a turn with no step).
type AgentState struct {
	AppliedGuidelineIDs []GuidelineID               `json:"applied_guideline_ids"`
	JourneyPaths        map[JourneyID][]GuidelineID `json:"journey_paths,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (s AgentState) Clone() AgentState {
	c := AgentState{
		AppliedGuidelineIDs: append([]GuidelineID(nil), s.AppliedGuidelineIDs...),
	}
	if s.JourneyPaths != nil {
		c.JourneyPaths = make(map[JourneyID][]GuidelineID, len(s.JourneyPaths))
		for k, v := range s.JourneyPaths {
			c.JourneyPaths[k] = append([]GuidelineID(nil), v...)
		}
	}
	return c
}

// Applied reports whether the guideline id is recorded as applied.
func (s AgentState) Applied(id GuidelineID) bool {
	for _, g := range s.AppliedGuidelineIDs {
		if g == id {
			return true
		}
	}
	return false
}

// Session is an ordered conversation between a customer and an agent. The
// AgentStates sequence grows by exactly one per completed processing cycle;
// the last element reflects the state before the current cycle.
type Session struct {
	ID          SessionID    `json:"id"`
	AgentID     AgentID      `json:"agent_id"`
	CustomerID  CustomerID   `json:"customer_id"`
	CreatedAt   time.Time    `json:"created_at"`
	Mode        SessionMode  `json:"mode"`
	Title       string       `json:"title,omitempty"`
	AgentStates []AgentState `json:"agent_states,omitempty"`
}

// CurrentAgentState returns the snapshot preceding the current cycle, or a
// zero state for a fresh session.
func (s *Session) CurrentAgentState() AgentState {
	if len(s.AgentStates) == 0 {
		return AgentState{}
	}
	return s.AgentStates[len(s.AgentStates)-1].Clone()
}

// EventFilter restricts ListEvents results. Zero-length slices match all.
type EventFilter struct {
	Kinds   []EventKind
	Sources []EventSource
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(e Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Sources) > 0 && !containsSource(f.Sources, e.Source) {
		return false
	}
	return true
}

func containsKind(ks []EventKind, k EventKind) bool {
	for _, v := range ks {
		if v == k {
			return true
		}
	}
	return false
}

func containsSource(ss []EventSource, s EventSource) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// SessionStore persists sessions and their append-only event logs. The store
// is the only cross-task shared mutable resource in a processing cycle; it
// serializes writers through monotonic event offsets.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	ReadSession(ctx context.Context, id SessionID) (*Session, error)

	// CreateEvent appends an event, assigning the next gap-free offset and a
	// creation timestamp, and returns the persisted event.
	CreateEvent(
		ctx context.Context,
		sessionID SessionID,
		kind EventKind,
		source EventSource,
		correlationID string,
		data []byte,
	) (Event, error)

	// ListEvents returns all events with offset >= minOffset passing the
	// filter, in offset order.
	ListEvents(ctx context.Context, sessionID SessionID, minOffset int, filter EventFilter) ([]Event, error)

	// AppendAgentState records the outcome of a completed processing cycle.
	AppendAgentState(ctx context.Context, sessionID SessionID, state AgentState) error

	// UpdateMode switches the session between auto and manual handling.
	UpdateMode(ctx context.Context, sessionID SessionID, mode SessionMode) error
}

// Inspection is the post-processing record of one cycle, persisted for
// debugging and offline analysis. It never reaches the customer.
type Inspection struct {
	SessionID         SessionID                   `json:"session_id"`
	CorrelationID     string                      `json:"correlation_id"`
	MatchedGuidelines []GuidelineID               `json:"matched_guidelines"`
	ToolCalls         []ToolCall                  `json:"tool_calls,omitempty"`
	Iterations        int                         `json:"iterations"`
	TotalTokens       int                         `json:"total_tokens"`
	CreatedAt         time.Time                   `json:"created_at"`
	JourneyPaths      map[JourneyID][]GuidelineID `json:"journey_paths,omitempty"`
}

// InspectionStore persists per-cycle inspection records.
type InspectionStore interface {
	CreateInspection(ctx context.Context, ins Inspection) error
}
