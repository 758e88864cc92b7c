// Package emit publishes session events. Publisher writes through to the
// session store, inheriting its monotonic offsets; Buffer accumulates events
// in memory so nested sub-engines can stage emissions and flush them later.
//
// Emissions from a single correlation scope are delivered in program order.
// Across scopes the only ordering guarantee is the store's offset.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/core"
)

// Emitter publishes events of each kind under a correlation scope taken from
// the context.
type Emitter interface {
	EmitStatus(ctx context.Context, data core.StatusEventData) (core.Event, error)
	EmitMessage(ctx context.Context, data core.MessageEventData) (core.Event, error)
	EmitTool(ctx context.Context, data core.ToolEventData) (core.Event, error)
	EmitCustom(ctx context.Context, data json.RawMessage) (core.Event, error)
}

// Publisher writes events through to the session store as the given source.
type Publisher struct {
	store     core.SessionStore
	sessionID core.SessionID
	source    core.EventSource
}

// NewPublisher creates a store-backed emitter for one session.
func NewPublisher(store core.SessionStore, sessionID core.SessionID, source core.EventSource) *Publisher {
	return &Publisher{store: store, sessionID: sessionID, source: source}
}

func (p *Publisher) emit(ctx context.Context, kind core.EventKind, v any) (core.Event, error) {
	data, err := core.MarshalEventData(v)
	if err != nil {
		return core.Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return p.store.CreateEvent(ctx, p.sessionID, kind, p.source, core.CorrelationID(ctx), data)
}

// EmitStatus publishes a status event.
func (p *Publisher) EmitStatus(ctx context.Context, data core.StatusEventData) (core.Event, error) {
	return p.emit(ctx, core.EventKindStatus, data)
}

// EmitMessage publishes a message event.
func (p *Publisher) EmitMessage(ctx context.Context, data core.MessageEventData) (core.Event, error) {
	return p.emit(ctx, core.EventKindMessage, data)
}

// EmitTool publishes a tool event.
func (p *Publisher) EmitTool(ctx context.Context, data core.ToolEventData) (core.Event, error) {
	return p.emit(ctx, core.EventKindTool, data)
}

// EmitCustom publishes a custom event with opaque data.
func (p *Publisher) EmitCustom(ctx context.Context, data json.RawMessage) (core.Event, error) {
	return p.store.CreateEvent(ctx, p.sessionID, core.EventKindCustom, p.source, core.CorrelationID(ctx), data)
}

type buffered struct {
	kind          core.EventKind
	correlationID string
	data          json.RawMessage
}

// Buffer accumulates emissions in memory. Its owner flushes them to a target
// emitter once the surrounding operation commits; a discarded buffer emits
// nothing.
type Buffer struct {
	mu     sync.Mutex
	events []buffered
}

// NewBuffer creates an empty buffering emitter.
func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) add(ctx context.Context, kind core.EventKind, v any) (core.Event, error) {
	data, err := core.MarshalEventData(v)
	if err != nil {
		return core.Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	correlationID := core.CorrelationID(ctx)
	b.mu.Lock()
	b.events = append(b.events, buffered{kind: kind, correlationID: correlationID, data: data})
	b.mu.Unlock()
	return core.Event{
		ID:            core.NewID(),
		Kind:          kind,
		CorrelationID: correlationID,
		Data:          data,
	}, nil
}

// EmitStatus buffers a status event.
func (b *Buffer) EmitStatus(ctx context.Context, data core.StatusEventData) (core.Event, error) {
	return b.add(ctx, core.EventKindStatus, data)
}

// EmitMessage buffers a message event.
func (b *Buffer) EmitMessage(ctx context.Context, data core.MessageEventData) (core.Event, error) {
	return b.add(ctx, core.EventKindMessage, data)
}

// EmitTool buffers a tool event.
func (b *Buffer) EmitTool(ctx context.Context, data core.ToolEventData) (core.Event, error) {
	return b.add(ctx, core.EventKindTool, data)
}

// EmitCustom buffers a custom event.
func (b *Buffer) EmitCustom(ctx context.Context, data json.RawMessage) (core.Event, error) {
	b.mu.Lock()
	correlationID := core.CorrelationID(ctx)
	b.events = append(b.events, buffered{kind: core.EventKindCustom, correlationID: correlationID, data: data})
	b.mu.Unlock()
	return core.Event{ID: core.NewID(), Kind: core.EventKindCustom, CorrelationID: correlationID, Data: data}, nil
}

// Len reports how many events are buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush replays buffered events into target in emission order, preserving
// each event's original correlation scope, then clears the buffer.
func (b *Buffer) Flush(ctx context.Context, target Emitter) error {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()

	for _, ev := range pending {
		evCtx := core.WithCorrelation(ctx, ev.correlationID)
		var err error
		switch ev.kind {
		case core.EventKindStatus:
			var d core.StatusEventData
			if err = json.Unmarshal(ev.data, &d); err == nil {
				_, err = target.EmitStatus(evCtx, d)
			}
		case core.EventKindMessage:
			var d core.MessageEventData
			if err = json.Unmarshal(ev.data, &d); err == nil {
				_, err = target.EmitMessage(evCtx, d)
			}
		case core.EventKindTool:
			var d core.ToolEventData
			if err = json.Unmarshal(ev.data, &d); err == nil {
				_, err = target.EmitTool(evCtx, d)
			}
		default:
			_, err = target.EmitCustom(evCtx, ev.data)
		}
		if err != nil {
			return fmt.Errorf("flush buffered %s event: %w", ev.kind, err)
		}
	}
	return nil
}
