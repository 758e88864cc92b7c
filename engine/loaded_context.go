package engine

import (
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/toolcall"
)

// IterationState snapshots what one preparation iteration established.
type IterationState struct {
	Matches            []core.GuidelineMatch
	ToolEnabledMatches []core.GuidelineMatch
	OrdinaryMatches    []core.GuidelineMatch
	ToolEvents         []core.Event
	ToolCalls          []core.ToolCall
	Variables          []core.ContextVariable
	Terms              []core.Term
	Journeys           []*core.Journey
	Capabilities       []core.Capability
	Insights           toolcall.Insights
}

// LoadedContext is the per-cycle mutable working set. It exists only for
// the duration of one processing cycle and is mutated solely from the
// engine's own task; concurrent sub-operations receive snapshots and merge
// on join.
type LoadedContext struct {
	Session     *core.Session
	Agent       *core.Agent
	Customer    *core.Customer
	Interaction []core.Event

	// State is the AgentState snapshot preceding this cycle.
	State core.AgentState

	Iterations        []IterationState
	JourneyPaths      map[core.JourneyID][]core.GuidelineID
	PreparedToRespond bool

	Emitter emit.Emitter
	Usage   generation.Usage

	// ModeUpdate, when set by an iteration, switches the session mode at
	// the end of that iteration.
	ModeUpdate *core.SessionMode

	CorrelationID string
}

// CurrentIteration returns the most recent iteration state, or nil before
// the first iteration.
func (lc *LoadedContext) CurrentIteration() *IterationState {
	if len(lc.Iterations) == 0 {
		return nil
	}
	return &lc.Iterations[len(lc.Iterations)-1]
}

// AllMatches returns the matches accumulated across iterations,
// deduplicated by guideline id with the latest match winning, preserving
// first-match order.
func (lc *LoadedContext) AllMatches() []core.GuidelineMatch {
	var order []core.GuidelineID
	latest := map[core.GuidelineID]core.GuidelineMatch{}
	for _, it := range lc.Iterations {
		for _, m := range it.Matches {
			if _, seen := latest[m.Guideline.ID]; !seen {
				order = append(order, m.Guideline.ID)
			}
			latest[m.Guideline.ID] = m
		}
	}
	out := make([]core.GuidelineMatch, len(order))
	for i, id := range order {
		out[i] = latest[id]
	}
	return out
}

// OrdinaryMatches returns the accumulated ordinary (non tool-enabled)
// matches across iterations.
func (lc *LoadedContext) OrdinaryMatches() []core.GuidelineMatch {
	var out []core.GuidelineMatch
	for _, it := range lc.Iterations {
		out = append(out, it.OrdinaryMatches...)
	}
	return out
}

// ToolEnabledMatches returns the accumulated tool-enabled matches across
// iterations.
func (lc *LoadedContext) ToolEnabledMatches() []core.GuidelineMatch {
	var out []core.GuidelineMatch
	for _, it := range lc.Iterations {
		out = append(out, it.ToolEnabledMatches...)
	}
	return out
}

// AllToolCalls returns every tool call executed so far this cycle.
func (lc *LoadedContext) AllToolCalls() []core.ToolCall {
	var out []core.ToolCall
	for _, it := range lc.Iterations {
		out = append(out, it.ToolCalls...)
	}
	return out
}

// MergedInsights combines and precedence-filters the tool insights of all
// iterations.
func (lc *LoadedContext) MergedInsights() toolcall.Insights {
	var merged toolcall.Insights
	for _, it := range lc.Iterations {
		merged = merged.Merge(it.Insights)
	}
	return merged.Filter()
}

// MatchedGuidelineIDs returns the distinct matched guideline ids in
// first-match order.
func (lc *LoadedContext) MatchedGuidelineIDs() []core.GuidelineID {
	matches := lc.AllMatches()
	out := make([]core.GuidelineID, len(matches))
	for i, m := range matches {
		out[i] = m.Guideline.ID
	}
	return out
}

// ActiveJourneyIDs returns the ids of journeys considered in the latest
// iteration.
func (lc *LoadedContext) ActiveJourneyIDs() []core.JourneyID {
	it := lc.CurrentIteration()
	if it == nil {
		return nil
	}
	out := make([]core.JourneyID, len(it.Journeys))
	for i, j := range it.Journeys {
		out[i] = j.ID
	}
	return out
}

// LastCustomerMessage returns the text of the most recent customer message.
func (lc *LoadedContext) LastCustomerMessage() string {
	for i := len(lc.Interaction) - 1; i >= 0; i-- {
		ev := lc.Interaction[i]
		if ev.Kind != core.EventKindMessage || ev.Source != core.EventSourceCustomer {
			continue
		}
		if data, err := core.DecodeMessageEventData(ev); err == nil {
			return data.Message
		}
	}
	return ""
}
