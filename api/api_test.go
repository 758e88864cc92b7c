package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/engine"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/internal/testutil"
	"github.com/parley-ai/parley/session"
	"github.com/parley-ai/parley/store"
	"github.com/parley-ai/parley/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, core.SessionStore, *store.InMemory) {
	t.Helper()
	sessions := session.NewInMemoryStore()
	registry := store.NewInMemory()
	registry.AddAgent(testutil.Agent("bot-1", 1))

	gen := generation.NewMockGenerator().Default(func(prompt string, _ generation.Hints) (any, error) {
		if strings.Contains(prompt, "Write your next reply") {
			return map[string]any{"message": "Hello from the bot.", "adheres_to_guidelines": true}, nil
		}
		return map[string]any{"decisions": []any{}}, nil
	})

	eng := engine.New(func(o *engine.Options) {
		o.SessionStore = sessions
		o.AgentStore = registry
		o.CustomerStore = registry
		o.GuidelineStore = registry
		o.JourneyStore = registry
		o.GlossaryStore = registry
		o.VariableStore = registry
		o.CapabilityStore = registry
		o.CannedResponseStore = registry
		o.Associations = registry
		o.NodeAssociations = registry
		o.InspectionStore = registry
		o.ToolService = store.NewToolRegistry(nil)
		o.Generator = gen
		o.Performance = nil
		o.Sleep = func(context.Context, time.Duration) error { return nil }
	})

	tasks := task.NewService(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})

	server := NewServer(func(o *Options) {
		o.SessionStore = sessions
		o.Engine = eng
		o.Tasks = tasks
		o.Registry = registry
		o.DefaultTimeout = 5 * time.Second
		o.PollInterval = 10 * time.Millisecond
	})
	return server, sessions, registry
}

func TestChatAsyncRejectsMissingFields(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Routes()

	req := httptest.NewRequest(http.MethodPost, "/sessions/chat_async",
		strings.NewReader(`{"message": "hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_id")
	assert.Contains(t, rec.Body.String(), "chatbot_id")
}

func TestChatAsyncRoundTrip(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Routes()

	body := `{"message": "hello", "tenant_id": "t1", "chatbot_id": "bot-1", "timeout": 5}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/chat_async", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Hello from the bot.")
	assert.Contains(t, rec.Body.String(), "session_id")
	assert.Contains(t, rec.Body.String(), "correlation_id")
}

func TestChatAsyncUnknownSession(t *testing.T) {
	server, _, _ := newTestServer(t)
	router := server.Routes()

	body := `{"message": "hello", "tenant_id": "t1", "chatbot_id": "bot-1", "session_id": "missing"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/chat_async", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListEventsFiltersAndLongPoll(t *testing.T) {
	server, sessions, _ := newTestServer(t)
	router := server.Routes()

	testutil.NewSession(t, sessions, "s1", "bot-1")
	testutil.CustomerMessage(t, sessions, "s1", "hi")

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/events?min_offset=0&kinds=message", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"offset":0`)

	// No matching events yet and no wait: an empty list returns immediately.
	req = httptest.NewRequest(http.MethodGet, "/sessions/s1/events?min_offset=5", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions/missing/events", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsRejectsBadParams(t *testing.T) {
	server, sessions, _ := newTestServer(t)
	router := server.Routes()
	testutil.NewSession(t, sessions, "s1", "bot-1")

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/events?min_offset=-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions/s1/events?wait_for_data=nan", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
