// Package compose generates the agent's reply messages. The fluid generator
// produces free text straight from the LLM; the canned-response generator
// drafts, retrieves and renders templates, then selects (and optionally
// revises) the best candidate. Both split the final text into chunks and
// emit them with paced typing indicators.
package compose

import (
	"context"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/toolcall"
)

// Policy supplies the tunables message generation needs.
type Policy interface {
	MessageGenerationTemperatures() []float64
	RetryBackoff() []time.Duration
	MaxHistoryForMessageGeneration() int
}

// Request is the read-only working set a composer renders a reply from.
type Request struct {
	Agent              *core.Agent
	Customer           *core.Customer
	Interaction        []core.Event
	OrdinaryMatches    []core.GuidelineMatch
	ToolEnabledMatches []core.GuidelineMatch
	ToolCalls          []core.ToolCall
	Terms              []core.Term
	Variables          []core.ContextVariable
	Capabilities       []core.Capability
	MissingParams      []toolcall.ProblematicParameter
	InvalidParams      []toolcall.ProblematicParameter
	ActiveJourneys     []core.JourneyID
	MatchedGuidelines  []core.GuidelineID
}

// Output reports what a composer emitted.
type Output struct {
	Messages []core.Event
	Usage    generation.Usage
}

// ChunkHook is called before each chunk is emitted. Returning false drops
// the chunk but continues with the next.
type ChunkHook func(ctx context.Context, chunk string) (bool, error)

// Composer generates and emits the reply for one processing cycle.
type Composer interface {
	GenerateMessages(ctx context.Context, req Request, em emit.Emitter, onChunk ChunkHook) (Output, error)
}

// Sleeper abstracts pacing sleeps so tests can run instantly. The default
// implementation respects context cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Options configures composer construction.
type Options struct {
	Generator     generation.SchematicGenerator
	Store         core.CannedResponseStore
	Policy        Policy
	Logger        logging.Logger
	Sleep         Sleeper
	NoMatch       *NoMatchResponseProvider
	MaxCandidates int
}

// NewComposer returns the composer for the agent's composition mode.
func NewComposer(mode core.CompositionMode, optFns ...func(o *Options)) Composer {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		Sleep:         defaultSleeper,
		NoMatch:       DefaultNoMatchResponseProvider(),
		MaxCandidates: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	fluid := &FluidGenerator{
		generator: opts.Generator,
		policy:    opts.Policy,
		logger:    opts.Logger,
		sleep:     opts.Sleep,
	}
	if mode == core.CompositionModeFluid {
		return fluid
	}
	return &CannedResponseGenerator{
		mode:          mode,
		fluid:         fluid,
		store:         opts.Store,
		generator:     opts.Generator,
		policy:        opts.Policy,
		logger:        opts.Logger,
		sleep:         opts.Sleep,
		noMatch:       opts.NoMatch,
		maxCandidates: opts.MaxCandidates,
	}
}

// NoMatchResponseProvider supplies the fallback reply for strict mode when
// no rendered template matches the draft well enough.
type NoMatchResponseProvider struct {
	Template string
}

// DefaultNoMatchResponseProvider returns the built-in fallback text.
func DefaultNoMatchResponseProvider() *NoMatchResponseProvider {
	return &NoMatchResponseProvider{
		Template: "I'm sorry, I don't have a good answer for that at hand. Could you rephrase, or is there something else I can help with?",
	}
}
