package engine

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/match"
	"github.com/parley-ai/parley/toolcall"
)

// runPreparationIteration performs one round of preparation: journey and
// guideline loading, glossary refresh, matching, the tool-enabled/ordinary
// split, tool calling, a second glossary refresh, and the journey path
// update. The initial iteration considers the full guideline set; later
// iterations consider only guidelines activated by the previous round's
// tool events.
func (e *Engine) runPreparationIteration(ctx context.Context, lc *LoadedContext) error {
	n := len(lc.Iterations)
	ctx = core.PushScope(ctx, fmt.Sprintf("prepare-%d", n))

	// Tool pre-execution snapshot: everything staged before this round.
	stagedCalls := lc.AllToolCalls()

	query := lc.LastCustomerMessage()
	state := IterationState{}

	active, err := e.loadActiveJourneys(ctx, query)
	if err != nil {
		return err
	}
	state.Journeys = active

	guidelines, err := e.loadCandidateGuidelines(ctx, lc, active, n)
	if err != nil {
		return err
	}

	// Ambient context for this round. Failures degrade the prompt rather
	// than the cycle.
	if terms, err := e.glossary.FindRelevantTerms(ctx, query, e.maxGlossaryTerms); err != nil {
		e.logger.Warn("glossary refresh failed: %v", err)
	} else {
		state.Terms = terms
	}
	if vars, err := e.variables.ListVariables(ctx, lc.Agent.ID, lc.Customer.ID); err != nil {
		e.logger.Warn("variable load failed: %v", err)
	} else {
		state.Variables = vars
	}
	if caps, err := e.capabilities.FindCapabilities(ctx, lc.Agent.ID); err != nil {
		e.logger.Warn("capability load failed: %v", err)
	} else {
		state.Capabilities = caps
	}

	mc := match.Context{
		Agent:        lc.Agent,
		Customer:     lc.Customer,
		Interaction:  lc.Interaction,
		Terms:        state.Terms,
		Variables:    state.Variables,
		StagedCalls:  stagedCalls,
		State:        lc.State,
		JourneyPaths: lc.JourneyPaths,
	}
	result, err := e.matcher.Match(core.PushScope(ctx, "matching"), mc, active, guidelines)
	if err != nil {
		return fmt.Errorf("guideline matching: %w", err)
	}
	lc.Usage = lc.Usage.Add(result.Usage())
	state.Matches = result.Matches

	toolEnabled, ordinary, err := e.splitMatches(ctx, result.Matches)
	if err != nil {
		return err
	}
	state.ToolEnabledMatches = toolEnabled
	state.OrdinaryMatches = ordinary

	if len(toolEnabled) > 0 {
		tcCtx := toolcall.Context{
			Agent:       lc.Agent,
			Interaction: lc.Interaction,
			StagedCalls: stagedCalls,
		}
		out, err := e.toolCaller.CallTools(core.PushScope(ctx, "tools"), tcCtx, toolEnabled, lc.Emitter)
		if err != nil {
			return fmt.Errorf("tool calling: %w", err)
		}
		state.ToolEvents = out.ToolEvents
		state.ToolCalls = out.ToolCalls
		state.Insights = out.Insights
		lc.Usage = lc.Usage.Add(out.Usage)

		// Second refresh: tool results may make further terms relevant.
		if len(out.ToolCalls) > 0 {
			refreshQuery := query
			for _, c := range out.ToolCalls {
				refreshQuery += " " + string(c.Result.Data)
			}
			if terms, err := e.glossary.FindRelevantTerms(ctx, refreshQuery, e.maxGlossaryTerms); err == nil {
				state.Terms = terms
			}
		}
	}

	lc.Iterations = append(lc.Iterations, state)

	// Journey path update: one entry per active journey per iteration, the
	// matched journey-node guideline id or "" when no step was reached.
	for _, j := range active {
		step := core.GuidelineID("")
		for _, m := range state.Matches {
			if ref := m.Guideline.Metadata.JourneyNode; ref != nil && ref.JourneyID == j.ID {
				step = m.Guideline.ID
				break
			}
		}
		lc.JourneyPaths[j.ID] = append(lc.JourneyPaths[j.ID], step)
	}
	return nil
}

// loadActiveJourneys ranks the available journeys against the query.
func (e *Engine) loadActiveJourneys(ctx context.Context, query string) ([]*core.Journey, error) {
	all, err := e.journeys.ListJourneys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	ids := make([]core.JourneyID, len(all))
	for i, j := range all {
		ids[i] = j.ID
	}
	active, err := e.journeys.FindRelevantJourneys(ctx, query, ids, e.policy.MaxActiveJourneys())
	if err != nil {
		return nil, fmt.Errorf("find relevant journeys: %w", err)
	}
	return active, nil
}

// loadCandidateGuidelines assembles the guidelines this iteration
// evaluates: the stored set scoped by agent tags plus the node guidelines
// admissible from each active journey's current path position. Additional
// iterations only consider guidelines activated by the previous round's
// tool events, so without new tool calls the candidate set is empty and the
// loop converges.
func (e *Engine) loadCandidateGuidelines(
	ctx context.Context,
	lc *LoadedContext,
	active []*core.Journey,
	iteration int,
) ([]*core.Guideline, error) {
	if iteration > 0 {
		prev := lc.CurrentIteration()
		if prev == nil || len(prev.ToolCalls) == 0 {
			return nil, nil
		}
	}

	guidelines, err := e.guidelines.ListGuidelines(ctx, lc.Agent.Tags)
	if err != nil {
		return nil, fmt.Errorf("list guidelines: %w", err)
	}
	for _, j := range active {
		guidelines = append(guidelines, j.NextStepCandidates(lc.JourneyPaths[j.ID])...)
	}

	if iteration > 0 {
		matched := map[core.GuidelineID]bool{}
		for _, id := range lc.MatchedGuidelineIDs() {
			matched[id] = true
		}
		fresh := guidelines[:0]
		for _, g := range guidelines {
			if !matched[g.ID] {
				fresh = append(fresh, g)
			}
		}
		guidelines = fresh
	}
	return guidelines, nil
}

// splitMatches partitions matches into tool-enabled and ordinary. A match
// is tool-enabled iff its guideline has at least one exact-id tool
// association, or it is a journey-node guideline whose node has associated
// tools.
func (e *Engine) splitMatches(
	ctx context.Context,
	matches []core.GuidelineMatch,
) (toolEnabled, ordinary []core.GuidelineMatch, err error) {
	if len(matches) == 0 {
		return nil, nil, nil
	}
	associations, err := e.associations.FindAllAssociations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("find tool associations: %w", err)
	}
	bound := map[core.GuidelineID]bool{}
	for _, a := range associations {
		bound[a.GuidelineID] = true
	}

	for _, m := range matches {
		enabled := bound[m.Guideline.ID]
		if !enabled {
			if ref := m.Guideline.Metadata.JourneyNode; ref != nil {
				nodeTools, err := e.nodeAssoc.FindNodeTools(ctx, ref.NodeID)
				if err != nil {
					return nil, nil, fmt.Errorf("find node tools: %w", err)
				}
				enabled = len(nodeTools) > 0
			}
		}
		if enabled {
			toolEnabled = append(toolEnabled, m)
		} else {
			ordinary = append(ordinary, m)
		}
	}
	return toolEnabled, ordinary, nil
}
