package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind categorizes entries in a session's event log.
type EventKind string

const (
	// EventKindMessage is a conversational message (customer or agent).
	EventKindMessage EventKind = "message"
	// EventKindTool records one or more executed tool calls with results.
	EventKindTool EventKind = "tool"
	// EventKindStatus is a fine-grained progress signal for front-ends.
	EventKindStatus EventKind = "status"
	// EventKindCustom carries opaque application-defined data.
	EventKindCustom EventKind = "custom"
)

// EventSource identifies the party that produced an event.
type EventSource string

const (
	// EventSourceCustomer marks events authored by the customer.
	EventSourceCustomer EventSource = "customer"
	// EventSourceAIAgent marks events authored by the replying AI agent.
	EventSourceAIAgent EventSource = "ai_agent"
	// EventSourceHumanAgent marks events authored by a human operator.
	EventSourceHumanAgent EventSource = "human_agent"
	// EventSourceSystem marks events authored by the runtime itself.
	EventSourceSystem EventSource = "system"
)

// Event is an element of the session log. Events are append-only; Offset is
// monotonic and gap-free per session, and (SessionID, Offset) is unique.
// After persistence an Event must be treated as immutable.
type Event struct {
	ID            string          `json:"id"`
	SessionID     SessionID       `json:"session_id"`
	Offset        int             `json:"offset"`
	Kind          EventKind       `json:"kind"`
	Source        EventSource     `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Data          json.RawMessage `json:"data"`
}

// NewID generates a unique identifier for events, sessions and correlation
// roots.
func NewID() string { return uuid.NewString() }

// Status enumerates the values carried by status events.
type Status string

const (
	// StatusAcknowledged proves the engine received the request.
	StatusAcknowledged Status = "acknowledged"
	// StatusProcessing reports an intermediate preparation stage.
	StatusProcessing Status = "processing"
	// StatusTyping signals an imminent agent message.
	StatusTyping Status = "typing"
	// StatusReady signals the customer may interject.
	StatusReady Status = "ready"
	// StatusCancelled reports a superseded processing cycle.
	StatusCancelled Status = "cancelled"
	// StatusError reports a fatal failure during a cycle.
	StatusError Status = "error"
)

// StatusDetails carries optional payload fields of a status event.
type StatusDetails struct {
	Stage     string `json:"stage,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// StatusEventData is the JSON payload of a status event.
type StatusEventData struct {
	Status Status        `json:"status"`
	Data   StatusDetails `json:"data"`
}

// Participant identifies the visible author of a message event.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MessageEventData is the JSON payload of a message event. Draft and
// CannedResponses are populated only for agent messages produced by the
// canned-response composer.
type MessageEventData struct {
	Message         string      `json:"message"`
	Participant     Participant `json:"participant"`
	Draft           string      `json:"draft,omitempty"`
	CannedResponses []string    `json:"canned_responses,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
}

// ToolEventData is the JSON payload of a tool event, covering every call
// actually invoked for one candidate tool.
type ToolEventData struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// MarshalEventData encodes a typed event payload. It never fails for the
// payload types defined in this package; an error indicates a programming
// mistake in custom data.
func MarshalEventData(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// DecodeMessageEventData parses a message event payload.
func DecodeMessageEventData(e Event) (MessageEventData, error) {
	var d MessageEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeStatusEventData parses a status event payload.
func DecodeStatusEventData(e Event) (StatusEventData, error) {
	var d StatusEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeToolEventData parses a tool event payload.
func DecodeToolEventData(e Event) (ToolEventData, error) {
	var d ToolEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}
