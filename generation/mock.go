package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MockHandler produces the value to encode for a given prompt. Returning an
// error simulates a transient provider failure.
type MockHandler func(prompt string, hints Hints) (any, error)

// MockGenerator is a lightweight in-memory SchematicGenerator for tests and
// examples. Handlers are matched by prompt substring in registration order;
// an optional default handler covers the rest. It records every call for
// assertions.
type MockGenerator struct {
	mu             sync.Mutex
	rules          []mockRule
	defaultHandler MockHandler
	calls          []string
	usagePerCall   Usage
}

type mockRule struct {
	substring string
	handler   MockHandler
}

// NewMockGenerator constructs an empty mock. Calls without a matching
// handler fail, which keeps tests honest about which prompts they exercise.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{usagePerCall: Usage{InputTokens: 100, OutputTokens: 50}}
}

// Handle registers a handler for prompts containing substring.
func (m *MockGenerator) Handle(substring string, handler MockHandler) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{substring: substring, handler: handler})
	return m
}

// Respond registers a fixed response value for prompts containing substring.
func (m *MockGenerator) Respond(substring string, value any) *MockGenerator {
	return m.Handle(substring, func(string, Hints) (any, error) { return value, nil })
}

// Default registers the fallback handler for unmatched prompts.
func (m *MockGenerator) Default(handler MockHandler) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
	return m
}

// Calls returns the prompts received so far.
func (m *MockGenerator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many generation calls were made.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Generate implements SchematicGenerator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, _ map[string]any, hints Hints) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	handler := m.defaultHandler
	for _, r := range m.rules {
		if strings.Contains(prompt, r.substring) {
			handler = r.handler
			break
		}
	}
	usage := m.usagePerCall
	m.mu.Unlock()

	if handler == nil {
		return Result{}, fmt.Errorf("mock generator: no handler for prompt %.80q", prompt)
	}
	v, err := handler(prompt, hints)
	if err != nil {
		return Result{Usage: usage}, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Result{Usage: usage}, fmt.Errorf("mock generator: encode response: %w", err)
	}
	return Result{Raw: raw, Usage: usage}, nil
}
