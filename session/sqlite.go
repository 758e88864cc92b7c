package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements core.SessionStore on a single SQLite database.
// Offsets are assigned under a process-wide mutex per store, which combined
// with WAL mode keeps them gap-free without SQLITE_BUSY churn.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes event appends for offset assignment
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed session store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		title TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL,
		offset INTEGER NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (session_id, offset)
	);

	CREATE TABLE IF NOT EXISTS agent_states (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// CreateSession registers a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *core.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, customer_id, mode, title, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(sess.AgentID), string(sess.CustomerID),
		string(sess.Mode), sess.Title, sess.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ReadSession loads a session and its agent-state history.
func (s *SQLiteStore) ReadSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, customer_id, mode, title, created_at FROM sessions WHERE id = ?`, string(id))

	var sess core.Session
	var sessionID, agentID, customerID, mode string
	var title sql.NullString
	var createdAt int64
	if err := row.Scan(&sessionID, &agentID, &customerID, &mode, &title, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	sess.ID = core.SessionID(sessionID)
	sess.AgentID = core.AgentID(agentID)
	sess.CustomerID = core.CustomerID(customerID)
	sess.Mode = core.SessionMode(mode)
	sess.Title = title.String
	sess.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT state_json FROM agent_states WHERE session_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, fmt.Errorf("read agent states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan agent state: %w", err)
		}
		var state core.AgentState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode agent state: %w", err)
		}
		sess.AgentStates = append(sess.AgentStates, state)
	}
	return &sess, rows.Err()
}

// CreateEvent appends an event with the next offset.
func (s *SQLiteStore) CreateEvent(
	ctx context.Context,
	sessionID core.SessionID,
	kind core.EventKind,
	source core.EventSource,
	correlationID string,
	data []byte,
) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		`SELECT MAX(offset) + 1 FROM events WHERE session_id = ?`, string(sessionID))
	if err := row.Scan(&next); err != nil {
		return core.Event{}, fmt.Errorf("next offset: %w", err)
	}
	offset := 0
	if next.Valid {
		offset = int(next.Int64)
	}

	ev := core.Event{
		ID:            core.NewID(),
		SessionID:     sessionID,
		Offset:        offset,
		Kind:          kind,
		Source:        source,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		Data:          append([]byte(nil), data...),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, offset, id, kind, source, correlation_id, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sessionID), ev.Offset, ev.ID, string(kind), string(source),
		correlationID, ev.CreatedAt.UnixNano(), []byte(ev.Data),
	)
	if err != nil {
		return core.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// ListEvents returns filtered events with offset >= minOffset in order.
func (s *SQLiteStore) ListEvents(
	ctx context.Context,
	sessionID core.SessionID,
	minOffset int,
	filter core.EventFilter,
) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, offset, kind, source, correlation_id, created_at, data
		 FROM events WHERE session_id = ? AND offset >= ? ORDER BY offset`,
		string(sessionID), minOffset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var ev core.Event
		var kind, source string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.Offset, &kind, &source, &ev.CorrelationID, &createdAt, (*[]byte)(&ev.Data)); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.SessionID = sessionID
		ev.Kind = core.EventKind(kind)
		ev.Source = core.EventSource(source)
		ev.CreatedAt = time.Unix(0, createdAt).UTC()
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, rows.Err()
}

// AppendAgentState records a completed cycle's state snapshot.
func (s *SQLiteStore) AppendAgentState(ctx context.Context, sessionID core.SessionID, state core.AgentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var next sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) + 1 FROM agent_states WHERE session_id = ?`, string(sessionID))
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("next state seq: %w", err)
	}
	seq := 0
	if next.Valid {
		seq = int(next.Int64)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_states (session_id, seq, state_json) VALUES (?, ?, ?)`,
		string(sessionID), seq, string(raw))
	if err != nil {
		return fmt.Errorf("insert agent state: %w", err)
	}
	return nil
}

// UpdateMode switches the session mode.
func (s *SQLiteStore) UpdateMode(ctx context.Context, sessionID core.SessionID, mode core.SessionMode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET mode = ? WHERE id = ?`, string(mode), string(sessionID))
	if err != nil {
		return fmt.Errorf("update mode: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}
