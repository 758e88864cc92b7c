// Package engine implements the per-session processing engine: the state
// machine that drives a session through acknowledgement, iterative
// preparation (guideline matching and tool calling), preamble, message
// generation and detached post-processing, emitting fine-grained status
// events throughout.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-ai/parley/compose"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/match"
	"github.com/parley-ai/parley/toolcall"
)

// Options configures an Engine. Every collaborator arrives explicitly; no
// global container is involved.
type Options struct {
	SessionStore        core.SessionStore
	AgentStore          core.AgentStore
	CustomerStore       core.CustomerStore
	GuidelineStore      core.GuidelineStore
	JourneyStore        core.JourneyStore
	GlossaryStore       core.GlossaryStore
	VariableStore       core.ContextVariableStore
	CapabilityStore     core.CapabilityStore
	CannedResponseStore core.CannedResponseStore
	Associations        core.GuidelineToolAssociationStore
	NodeAssociations    core.JourneyNodeToolAssociationStore
	InspectionStore     core.InspectionStore
	ToolService         core.ToolService

	Generator   generation.SchematicGenerator
	Policy      OptimizationPolicy
	Performance *PerceivedPerformancePolicy
	Hooks       Hooks
	Logger      logging.Logger

	// Sleep abstracts pacing sleeps so tests can run instantly.
	Sleep compose.Sleeper

	// MaxGlossaryTerms caps glossary retrieval per refresh.
	MaxGlossaryTerms int
}

// Engine orchestrates processing cycles. It is safe for concurrent use;
// all per-cycle state lives in the LoadedContext of each call.
type Engine struct {
	sessions     core.SessionStore
	agents       core.AgentStore
	customers    core.CustomerStore
	guidelines   core.GuidelineStore
	journeys     core.JourneyStore
	glossary     core.GlossaryStore
	variables    core.ContextVariableStore
	capabilities core.CapabilityStore
	canned       core.CannedResponseStore
	associations core.GuidelineToolAssociationStore
	nodeAssoc    core.JourneyNodeToolAssociationStore
	inspections  core.InspectionStore

	generator   generation.SchematicGenerator
	policy      OptimizationPolicy
	performance *PerceivedPerformancePolicy
	hooks       Hooks
	logger      logging.Logger
	sleep       compose.Sleeper

	maxGlossaryTerms int

	matcher    *match.Matcher
	toolCaller *toolcall.Caller
	preamble   *compose.PreambleGenerator
}

// New constructs an Engine with its subsystems wired from the options.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Policy:           BasicOptimizationPolicy{},
		Performance:      &PerceivedPerformancePolicy{},
		Logger:           logging.NoOpLogger{},
		MaxGlossaryTerms: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}

	e := &Engine{
		sessions:         opts.SessionStore,
		agents:           opts.AgentStore,
		customers:        opts.CustomerStore,
		guidelines:       opts.GuidelineStore,
		journeys:         opts.JourneyStore,
		glossary:         opts.GlossaryStore,
		variables:        opts.VariableStore,
		capabilities:     opts.CapabilityStore,
		canned:           opts.CannedResponseStore,
		associations:     opts.Associations,
		nodeAssoc:        opts.NodeAssociations,
		inspections:      opts.InspectionStore,
		generator:        opts.Generator,
		policy:           opts.Policy,
		performance:      opts.Performance,
		hooks:            opts.Hooks,
		logger:           opts.Logger,
		sleep:            opts.Sleep,
		maxGlossaryTerms: opts.MaxGlossaryTerms,
	}

	e.matcher = match.NewMatcher(func(o *match.Options) {
		o.Generator = opts.Generator
		o.Policy = opts.Policy
		o.Logger = opts.Logger
	})
	e.toolCaller = toolcall.NewCaller(func(o *toolcall.Options) {
		o.ToolService = opts.ToolService
		o.Associations = opts.Associations
		o.NodeAssociations = opts.NodeAssociations
		o.Generator = opts.Generator
		o.Policy = opts.Policy
		o.Logger = opts.Logger
	})
	e.preamble = compose.NewPreambleGenerator(func(o *compose.PreambleOptions) {
		o.Generator = opts.Generator
		o.Store = opts.CannedResponseStore
		o.Logger = opts.Logger
		if opts.Performance != nil {
			o.Rand = opts.Performance.Rand
		}
	})
	return e
}

// Process runs one full processing cycle for the session. It returns true
// when the cycle reached terminal emission (ready), false when it was
// cancelled or bailed by a hook. A session in manual mode returns true
// immediately without emitting anything. Errors during preparation are logged and
// the engine proceeds with whatever state it has; only a failure inside
// message generation is fatal.
func (e *Engine) Process(
	ctx context.Context,
	sessionID core.SessionID,
	agentID core.AgentID,
	em emit.Emitter,
) (bool, error) {
	ctx = core.PushScope(ctx, "process")

	lc, err := e.loadContext(ctx, sessionID, agentID, em)
	if err != nil {
		return false, err
	}
	if lc.Session.Mode == core.SessionModeManual {
		// Manual sessions are replied to by a human operator.
		return true, nil
	}

	if !e.hooks.call(ctx, lc, e.hooks.OnAcknowledging, nil) {
		return false, nil
	}
	if _, err := em.EmitStatus(ctx, core.StatusEventData{Status: core.StatusAcknowledged}); err != nil {
		return false, err
	}
	if !e.hooks.call(ctx, lc, e.hooks.OnAcknowledged, nil) {
		return false, nil
	}
	if !e.hooks.call(ctx, lc, e.hooks.OnPreparing, nil) {
		return false, nil
	}

	if err := e.prepare(ctx, lc); err != nil {
		if core.IsCancelled(err) {
			return false, nil
		}
		// Preparation failures are forgiven; message generation proceeds
		// with whatever the iterations established.
		e.logger.Error("preparation failed correlation_id=%s error=%v", lc.CorrelationID, err)
	}

	if !e.hooks.call(ctx, lc, e.hooks.OnGeneratingMessages, nil) {
		return false, nil
	}

	reply, ok := e.generateMessages(ctx, lc)
	if !ok {
		return false, nil
	}

	// Post-processing runs on a detached context: it only writes to stores
	// and must survive a superseding dispatch.
	e.postProcess(core.PushScope(context.WithoutCancel(ctx), "postprocess"), lc, reply)
	return true, nil
}

// loadContext acquires the read-only snapshot a cycle works from.
func (e *Engine) loadContext(
	ctx context.Context,
	sessionID core.SessionID,
	agentID core.AgentID,
	em emit.Emitter,
) (*LoadedContext, error) {
	session, err := e.sessions.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	agent, err := e.agents.ReadAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	customer, err := e.customers.ReadCustomer(ctx, session.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	interaction, err := e.sessions.ListEvents(ctx, sessionID, 0, core.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("load interaction: %w", err)
	}

	state := session.CurrentAgentState()
	paths := map[core.JourneyID][]core.GuidelineID{}
	for k, v := range state.JourneyPaths {
		paths[k] = append([]core.GuidelineID(nil), v...)
	}

	return &LoadedContext{
		Session:       session,
		Agent:         agent,
		Customer:      customer,
		Interaction:   interaction,
		State:         state,
		JourneyPaths:  paths,
		Emitter:       em,
		CorrelationID: core.CorrelationID(ctx),
	}, nil
}

// prepare runs the preparation loop until convergence, launching the
// preamble task alongside the first iteration.
func (e *Engine) prepare(ctx context.Context, lc *LoadedContext) error {
	for !lc.PreparedToRespond {
		iteration := len(lc.Iterations)

		var preambleDone <-chan preambleOutcome
		if iteration == 0 && e.preambleRequired(lc) {
			preambleDone = e.startPreambleTask(ctx, lc)
		}

		if !e.hooks.call(ctx, lc, e.hooks.OnPreparationIterationStart, nil) {
			break
		}

		iterErr := e.runPreparationIteration(ctx, lc)

		if preambleDone != nil {
			outcome := <-preambleDone
			lc.Usage = lc.Usage.Add(outcome.usage)
			if outcome.err != nil {
				if core.IsCancelled(outcome.err) {
					return outcome.err
				}
				e.logger.Warn("preamble task failed: %v", outcome.err)
			}
		}
		if iterErr != nil {
			return iterErr
		}

		if lc.ModeUpdate != nil {
			if err := e.sessions.UpdateMode(ctx, lc.Session.ID, *lc.ModeUpdate); err != nil {
				e.logger.Warn("session mode update failed: %v", err)
			}
			lc.Session.Mode = *lc.ModeUpdate
			lc.ModeUpdate = nil
		}

		if !e.hooks.call(ctx, lc, e.hooks.OnPreparationIterationEnd, nil) {
			break
		}

		e.checkConvergence(lc)
	}
	lc.PreparedToRespond = true
	return nil
}

// checkConvergence marks the context prepared when the last iteration
// produced neither new tool calls nor new guideline matches, or the
// iteration budget is exhausted.
func (e *Engine) checkConvergence(lc *LoadedContext) {
	if len(lc.Iterations) >= lc.Agent.MaxEngineIterations {
		lc.PreparedToRespond = true
		return
	}
	it := lc.CurrentIteration()
	if it == nil {
		return
	}
	if len(it.ToolCalls) > 0 {
		return
	}
	seen := map[core.GuidelineID]bool{}
	for _, prev := range lc.Iterations[:len(lc.Iterations)-1] {
		for _, m := range prev.Matches {
			seen[m.Guideline.ID] = true
		}
	}
	for _, m := range it.Matches {
		if !seen[m.Guideline.ID] {
			return
		}
	}
	lc.PreparedToRespond = true
}

// preambleRequired applies the perceived-performance policy against the
// session's wait history. A nil policy disables preambles entirely.
func (e *Engine) preambleRequired(lc *LoadedContext) bool {
	if e.performance == nil {
		return false
	}
	waits, lastWasPreamble := waitHistory(lc.Interaction)
	return e.performance.PreambleRequired(waits, lastWasPreamble)
}

// waitHistory derives per-cycle customer wait times from the event log and
// whether the most recent agent message was a preamble.
func waitHistory(interaction []core.Event) ([]time.Duration, bool) {
	var waits []time.Duration
	var pendingCustomer *core.Event
	lastWasPreamble := false

	for i := range interaction {
		ev := interaction[i]
		if ev.Kind != core.EventKindMessage {
			continue
		}
		switch ev.Source {
		case core.EventSourceCustomer:
			if pendingCustomer == nil {
				pendingCustomer = &interaction[i]
			}
		case core.EventSourceAIAgent, core.EventSourceHumanAgent:
			if pendingCustomer != nil {
				waits = append(waits, ev.CreatedAt.Sub(pendingCustomer.CreatedAt))
				pendingCustomer = nil
			}
			lastWasPreamble = false
			if data, err := core.DecodeMessageEventData(ev); err == nil {
				for _, tag := range data.Tags {
					if tag == compose.TagPreambleMessage {
						lastWasPreamble = true
					}
				}
			}
		}
	}
	return waits, lastWasPreamble
}

type preambleOutcome struct {
	usage generation.Usage
	err   error
}

// startPreambleTask runs the preamble concurrently with the first
// preparation iteration: an initial pause, at most one preamble message,
// a second pause, then the first processing status. The goroutine works on
// a request snapshot and reports back over the channel; it never touches
// the loaded context.
func (e *Engine) startPreambleTask(ctx context.Context, lc *LoadedContext) <-chan preambleOutcome {
	done := make(chan preambleOutcome, 1)
	preambleCtx := core.PushScope(ctx, "preamble")
	em := lc.Emitter

	req := e.composeRequest(lc)
	go func() {
		var outcome preambleOutcome
		outcome.err = func() error {
			if err := e.sleep(preambleCtx, e.performance.PreambleInitialDelay()); err != nil {
				return err
			}
			out, err := e.preamble.GeneratePreamble(preambleCtx, req, em)
			outcome.usage = out.Usage
			if err != nil {
				return err
			}
			if err := e.sleep(preambleCtx, e.performance.PostPreambleDelay()); err != nil {
				return err
			}
			_, err = em.EmitStatus(preambleCtx, core.StatusEventData{
				Status: core.StatusProcessing,
				Data:   core.StatusDetails{Stage: "Interpreting"},
			})
			return err
		}()
		done <- outcome
	}()
	return done
}

// generateMessages runs the composer under the cancellation-suppression
// latch, emitting typing first and the terminal ready last. It reports
// whether the cycle reached terminal emission.
func (e *Engine) generateMessages(ctx context.Context, lc *LoadedContext) (string, bool) {
	latch, genCtx := EnterLatch(ctx)

	if _, err := lc.Emitter.EmitStatus(genCtx, core.StatusEventData{Status: core.StatusTyping}); err != nil {
		e.emitError(genCtx, lc, err)
		return "", false
	}

	composer := compose.NewComposer(lc.Agent.CompositionMode, func(o *compose.Options) {
		o.Generator = e.generator
		o.Store = e.canned
		o.Policy = e.policy
		o.Logger = e.logger
		o.Sleep = e.sleep
	})

	onChunk := func(chunkCtx context.Context, chunk string) (bool, error) {
		return e.hooks.callChunk(chunkCtx, lc, chunk), nil
	}

	out, err := composer.GenerateMessages(genCtx, e.composeRequest(lc), lc.Emitter, onChunk)
	lc.Usage = lc.Usage.Add(out.Usage)
	if err != nil {
		e.emitError(genCtx, lc, err)
		_ = latch.Release()
		return "", false
	}

	if _, err := lc.Emitter.EmitStatus(genCtx, core.StatusEventData{Status: core.StatusReady}); err != nil {
		_ = latch.Release()
		return "", false
	}

	var reply string
	for _, ev := range out.Messages {
		if data, decodeErr := core.DecodeMessageEventData(ev); decodeErr == nil {
			if reply != "" {
				reply += "\n\n"
			}
			reply += data.Message
		}
	}

	if deferred := latch.Release(); deferred != nil {
		// A follow-up superseded the cycle mid-generation. The reply and its
		// ready already landed; the new cycle owns everything after this.
		e.logger.Debug("cancellation deferred through message generation correlation_id=%s", lc.CorrelationID)
	}
	return reply, true
}

// composeRequest snapshots the loaded context into the composer's request,
// applying the missing-over-invalid precedence filter on tool insights.
func (e *Engine) composeRequest(lc *LoadedContext) compose.Request {
	insights := lc.MergedInsights()
	req := compose.Request{
		Agent:              lc.Agent,
		Customer:           lc.Customer,
		Interaction:        lc.Interaction,
		OrdinaryMatches:    lc.OrdinaryMatches(),
		ToolEnabledMatches: lc.ToolEnabledMatches(),
		ToolCalls:          lc.AllToolCalls(),
		MissingParams:      insights.MissingData,
		InvalidParams:      insights.InvalidData,
		ActiveJourneys:     lc.ActiveJourneyIDs(),
		MatchedGuidelines:  lc.MatchedGuidelineIDs(),
	}
	if it := lc.CurrentIteration(); it != nil {
		req.Terms = it.Terms
		req.Variables = it.Variables
		req.Capabilities = it.Capabilities
	}
	return req
}

// emitError surfaces a fatal generation failure to the customer as an
// error status carrying an opaque exception summary.
func (e *Engine) emitError(ctx context.Context, lc *LoadedContext, cause error) {
	e.logger.Error("message generation failed correlation_id=%s error=%v", lc.CorrelationID, cause)
	e.hooks.call(ctx, lc, e.hooks.OnError, cause)
	_, err := lc.Emitter.EmitStatus(context.WithoutCancel(ctx), core.StatusEventData{
		Status: core.StatusError,
		Data:   core.StatusDetails{Exception: fmt.Sprintf("%T", cause)},
	})
	if err != nil {
		e.logger.Error("error status emission failed: %v", err)
	}
}

// postProcess persists the inspection record, runs response analysis and
// appends the cycle's AgentState. Failures here are logged and never reach
// the customer.
func (e *Engine) postProcess(ctx context.Context, lc *LoadedContext, reply string) {
	applied := append([]core.GuidelineID(nil), lc.State.AppliedGuidelineIDs...)

	matches := lc.AllMatches()
	if reply != "" && len(matches) > 0 {
		mc := match.Context{
			Agent:       lc.Agent,
			Customer:    lc.Customer,
			Interaction: lc.Interaction,
			State:       lc.State,
		}
		analysis, err := e.matcher.AnalyzeResponse(ctx, mc, matches, reply)
		lc.Usage = lc.Usage.Add(analysis.Usage)
		if err != nil {
			e.logger.Warn("response analysis failed correlation_id=%s error=%v", lc.CorrelationID, err)
		} else {
			for _, id := range analysis.AppliedGuidelineIDs {
				if !lc.State.Applied(id) {
					applied = append(applied, id)
				}
			}
		}
	}

	newState := core.AgentState{
		AppliedGuidelineIDs: applied,
		JourneyPaths:        lc.JourneyPaths,
	}
	if err := e.sessions.AppendAgentState(ctx, lc.Session.ID, newState); err != nil {
		e.logger.Error("agent state persistence failed correlation_id=%s error=%v", lc.CorrelationID, err)
	}

	if e.inspections != nil {
		ins := core.Inspection{
			SessionID:         lc.Session.ID,
			CorrelationID:     lc.CorrelationID,
			MatchedGuidelines: lc.MatchedGuidelineIDs(),
			ToolCalls:         lc.AllToolCalls(),
			Iterations:        len(lc.Iterations),
			TotalTokens:       lc.Usage.Total(),
			CreatedAt:         time.Now().UTC(),
			JourneyPaths:      lc.JourneyPaths,
		}
		if err := e.inspections.CreateInspection(ctx, ins); err != nil {
			e.logger.Warn("inspection persistence failed: %v", err)
		}
	}

	e.hooks.call(ctx, lc, e.hooks.OnGeneratedMessages, nil)
}
