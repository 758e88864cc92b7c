// Package api exposes the HTTP surface: asynchronous chat dispatch, event
// long-polling and a websocket log feed. It is a thin shell over the
// processing engine; all conversational semantics live below it.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/engine"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/store"
	"github.com/parley-ai/parley/task"
)

// Options configures a Server.
type Options struct {
	SessionStore core.SessionStore
	Engine       *engine.Engine
	Tasks        *task.Service
	Logger       logging.Logger
	Broadcaster  *logging.Broadcaster

	// Registry, when set, supplies per-cycle inspection records so the chat
	// response can report token usage.
	Registry *store.InMemory

	DefaultTimeout time.Duration
	PollInterval   time.Duration
}

// Server routes HTTP requests into the engine.
type Server struct {
	sessions       core.SessionStore
	engine         *engine.Engine
	tasks          *task.Service
	logger         logging.Logger
	broadcaster    *logging.Broadcaster
	registry       *store.InMemory
	defaultTimeout time.Duration
	pollInterval   time.Duration
	upgrader       websocket.Upgrader
}

// NewServer constructs a Server.
func NewServer(optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		DefaultTimeout: 57 * time.Second,
		PollInterval:   200 * time.Millisecond,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{
		sessions:       opts.SessionStore,
		engine:         opts.Engine,
		tasks:          opts.Tasks,
		logger:         opts.Logger,
		broadcaster:    opts.Broadcaster,
		registry:       opts.Registry,
		defaultTimeout: opts.DefaultTimeout,
		pollInterval:   opts.PollInterval,
		upgrader:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Post("/sessions/chat_async", s.handleChatAsync)
	r.Get("/sessions/{sessionID}/events", s.handleListEvents)
	if s.broadcaster != nil {
		r.Get("/logs/ws", s.handleLogFeed)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}
