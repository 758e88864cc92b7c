// Package task runs keyed background tasks with cancel-and-replace
// semantics: dispatching a task for a key cancels any task already running
// under that key. The engine keys processing tasks by session id, enforcing
// at most one active cycle per session.
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// Func is a background task body. It must honor ctx cancellation at every
// blocking point.
type Func func(ctx context.Context) error

type entry struct {
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Service tracks at most one running task per key.
type Service struct {
	mu     sync.Mutex
	tasks  map[string]*entry
	logger logging.Logger
}

// NewService creates an empty task service.
func NewService(logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Service{tasks: map[string]*entry{}, logger: logger}
}

// Dispatch starts fn under the key, cancelling and replacing any prior task
// for the same key. The task's context detaches from the caller's
// cancellation (a finished HTTP request must not kill processing) while
// inheriting its values, including the correlation scope.
func (s *Service) Dispatch(ctx context.Context, key, tag string, fn Func) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{tag: tag, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.tasks[key]; ok {
		s.logger.Debug("task replaced key=%s tag=%s", key, prev.tag)
		prev.cancel()
	}
	s.tasks[key] = e
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			if s.tasks[key] == e {
				delete(s.tasks, key)
			}
			s.mu.Unlock()
			close(e.done)
			cancel()
		}()

		if err := fn(taskCtx); err != nil && !core.IsCancelled(err) && !core.IsBail(err) {
			s.logger.Error("task failed key=%s tag=%s error=%v", key, tag, err)
		}
	}()
}

// Cancel stops the task for the key, if any, and reports whether one was
// running.
func (s *Service) Cancel(key string) bool {
	s.mu.Lock()
	e, ok := s.tasks[key]
	s.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Await blocks until the currently running task for the key finishes, or
// returns immediately when none is running.
func (s *Service) Await(ctx context.Context, key string) error {
	s.mu.Lock()
	e, ok := s.tasks[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running task and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		e.cancel()
		pending = append(pending, e)
	}
	s.mu.Unlock()

	for _, e := range pending {
		select {
		case <-e.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
		}
	}
	return nil
}
