// Package session provides SessionStore implementations: a thread-safe
// in-memory store for development and tests, and a SQLite-backed store for
// durable single-node deployments.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
)

// InMemoryStore keeps sessions and event logs in process memory. Offsets are
// assigned under the store lock, which makes them monotonic and gap-free per
// session.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session
	events   map[core.SessionID][]core.Event
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: map[core.SessionID]*core.Session{},
		events:   map[core.SessionID][]core.Event{},
	}
}

// CreateSession registers a new session.
func (s *InMemoryStore) CreateSession(_ context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

// ReadSession returns a snapshot of the session.
func (s *InMemoryStore) ReadSession(_ context.Context, id core.SessionID) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	clone := *sess
	clone.AgentStates = make([]core.AgentState, len(sess.AgentStates))
	for i, st := range sess.AgentStates {
		clone.AgentStates[i] = st.Clone()
	}
	return &clone, nil
}

// CreateEvent appends an event with the next offset.
func (s *InMemoryStore) CreateEvent(
	ctx context.Context,
	sessionID core.SessionID,
	kind core.EventKind,
	source core.EventSource,
	correlationID string,
	data []byte,
) (core.Event, error) {
	if err := ctx.Err(); err != nil {
		return core.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return core.Event{}, fmt.Errorf("session %s not found", sessionID)
	}
	ev := core.Event{
		ID:            core.NewID(),
		SessionID:     sessionID,
		Offset:        len(s.events[sessionID]),
		Kind:          kind,
		Source:        source,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		Data:          append([]byte(nil), data...),
	}
	s.events[sessionID] = append(s.events[sessionID], ev)
	return ev, nil
}

// ListEvents returns filtered events with offset >= minOffset in order.
func (s *InMemoryStore) ListEvents(
	_ context.Context,
	sessionID core.SessionID,
	minOffset int,
	filter core.EventFilter,
) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	var out []core.Event
	for _, ev := range s.events[sessionID] {
		if ev.Offset < minOffset || !filter.Matches(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// AppendAgentState records a completed cycle's state snapshot.
func (s *InMemoryStore) AppendAgentState(_ context.Context, sessionID core.SessionID, state core.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.AgentStates = append(sess.AgentStates, state.Clone())
	return nil
}

// UpdateMode switches the session mode.
func (s *InMemoryStore) UpdateMode(_ context.Context, sessionID core.SessionID, mode core.SessionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.Mode = mode
	return nil
}
