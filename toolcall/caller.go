// Package toolcall implements the tool caller: per-tool applicability
// inference, argument validation, execution with retries, and the insight
// bookkeeping that lets the composer ask the customer for missing data.
package toolcall

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/logging"
	"golang.org/x/sync/errgroup"
)

// Policy supplies the tunables a tool-calling pass needs.
type Policy interface {
	ToolCallingTemperatures() []float64
	RetryBackoff() []time.Duration
	MaxHistoryForToolCalls() int
	MaxToolExecutionAttempts() int
}

// Context is the read-only working set one tool-calling pass evaluates
// against. StagedCalls covers calls already executed earlier in the cycle so
// duplicates are skipped.
type Context struct {
	Agent       *core.Agent
	Interaction []core.Event
	StagedCalls []core.ToolCall
}

// Output is the outcome of one tool-calling pass.
type Output struct {
	ToolEvents []core.Event
	ToolCalls  []core.ToolCall
	Insights   Insights
	Usage      generation.Usage
}

// Options configures a Caller.
type Options struct {
	ToolService      core.ToolService
	Associations     core.GuidelineToolAssociationStore
	NodeAssociations core.JourneyNodeToolAssociationStore
	Generator        generation.SchematicGenerator
	Policy           Policy
	Logger           logging.Logger
}

// Caller decides which tools to invoke and runs them.
type Caller struct {
	tools            core.ToolService
	associations     core.GuidelineToolAssociationStore
	nodeAssociations core.JourneyNodeToolAssociationStore
	generator        generation.SchematicGenerator
	policy           Policy
	logger           logging.Logger
}

// NewCaller constructs a Caller.
func NewCaller(optFns ...func(o *Options)) *Caller {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Caller{
		tools:            opts.ToolService,
		associations:     opts.Associations,
		nodeAssociations: opts.NodeAssociations,
		generator:        opts.Generator,
		policy:           opts.Policy,
		logger:           opts.Logger,
	}
}

// candidate pairs a tool with the matches that requested it. Precedence is
// the highest requesting match score.
type candidate struct {
	definition *core.ToolDefinition
	matches    []core.GuidelineMatch
	precedence float64
}

// CallTools runs the full pass for the given guideline matches: candidate
// collection via exact-id associations, parallel per-tool inference,
// execution of applicable calls, and deterministic merge on join. Tool
// events are emitted through em after all executions complete, in candidate
// order.
func (c *Caller) CallTools(
	ctx context.Context,
	tcCtx Context,
	matches []core.GuidelineMatch,
	em emit.Emitter,
) (Output, error) {
	if maxN := c.policy.MaxHistoryForToolCalls(); maxN > 0 && len(tcCtx.Interaction) > maxN {
		tcCtx.Interaction = tcCtx.Interaction[len(tcCtx.Interaction)-maxN:]
	}

	candidates, err := c.collectCandidates(ctx, matches)
	if err != nil {
		return Output{}, err
	}
	if len(candidates) == 0 {
		return Output{}, nil
	}

	if _, err := em.EmitStatus(ctx, core.StatusEventData{
		Status: core.StatusProcessing,
		Data:   core.StatusDetails{Stage: "Fetching data"},
	}); err != nil {
		return Output{}, err
	}

	// Inference and execution run in parallel across candidate tools; a
	// tool's executions start only after its own inference completes. Each
	// goroutine writes into its own slot and results merge after the join.
	outputs := make([]Output, len(candidates))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		eg.Go(func() error {
			out, err := c.runCandidate(egCtx, tcCtx, cand)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Output{}, err
	}

	var merged Output
	for _, out := range outputs {
		merged.ToolCalls = append(merged.ToolCalls, out.ToolCalls...)
		merged.Insights = merged.Insights.Merge(out.Insights)
		merged.Usage = merged.Usage.Add(out.Usage)
	}

	for _, call := range merged.ToolCalls {
		ev, err := em.EmitTool(ctx, core.ToolEventData{ToolCalls: []core.ToolCall{call}})
		if err != nil {
			return Output{}, err
		}
		merged.ToolEvents = append(merged.ToolEvents, ev)
	}
	return merged, nil
}

// collectCandidates resolves the tools associated with the matched
// guidelines: guideline-tool associations by exact id, plus node-tool
// associations for journey-node guidelines.
func (c *Caller) collectCandidates(ctx context.Context, matches []core.GuidelineMatch) ([]candidate, error) {
	associations, err := c.associations.FindAllAssociations(ctx)
	if err != nil {
		return nil, fmt.Errorf("find tool associations: %w", err)
	}
	byGuideline := map[core.GuidelineID][]core.ToolID{}
	for _, a := range associations {
		byGuideline[a.GuidelineID] = append(byGuideline[a.GuidelineID], a.ToolID)
	}

	var order []core.ToolID
	grouped := map[core.ToolID]*candidate{}
	addTool := func(id core.ToolID, m core.GuidelineMatch) error {
		cand, ok := grouped[id]
		if !ok {
			def, err := c.tools.ResolveTool(ctx, id)
			if err != nil {
				return fmt.Errorf("resolve tool %s: %w", id, err)
			}
			cand = &candidate{definition: def}
			grouped[id] = cand
			order = append(order, id)
		}
		cand.matches = append(cand.matches, m)
		if m.Score > cand.precedence {
			cand.precedence = m.Score
		}
		return nil
	}

	for _, m := range matches {
		for _, id := range byGuideline[m.Guideline.ID] {
			if err := addTool(id, m); err != nil {
				return nil, err
			}
		}
		if ref := m.Guideline.Metadata.JourneyNode; ref != nil {
			nodeTools, err := c.nodeAssociations.FindNodeTools(ctx, ref.NodeID)
			if err != nil {
				return nil, fmt.Errorf("find node tools: %w", err)
			}
			for _, id := range nodeTools {
				if err := addTool(id, m); err != nil {
					return nil, err
				}
			}
		}
	}

	out := make([]candidate, len(order))
	for i, id := range order {
		out[i] = *grouped[id]
	}
	return out, nil
}

// runCandidate infers applicability for one tool and executes the calls
// that pass the execution policy.
func (c *Caller) runCandidate(ctx context.Context, tcCtx Context, cand candidate) (Output, error) {
	inference, usage, err := c.inferWithRetry(ctx, tcCtx, cand)
	if err != nil {
		if core.IsCancelled(err) {
			return Output{}, err
		}
		// A failed inference skips this tool; the cycle continues with
		// whatever the other candidates produced.
		c.logger.Warn("tool inference failed tool=%s error=%v", cand.definition.ID, err)
		return Output{Usage: usage}, nil
	}

	out := Output{Usage: usage}
	for _, call := range inference.ToolCallsForCandidateTool {
		if !call.IsApplicable {
			continue
		}
		if call.SameCallIsAlreadyStaged {
			continue
		}

		args := map[string]string{}
		blocked := false
		for _, ev := range call.ArgumentEvaluations {
			param := ProblematicParameter{
				ToolID:     cand.definition.ID,
				Parameter:  ev.ParameterName,
				Precedence: cand.precedence,
			}
			if p, ok := cand.definition.Parameter(ev.ParameterName); ok {
				param.Description = p.Description
			}
			switch ev.State {
			case argumentMissing:
				if !ev.IsOptional {
					out.Insights.MissingData = append(out.Insights.MissingData, param)
					blocked = true
				}
			case argumentInvalid:
				out.Insights.InvalidData = append(out.Insights.InvalidData, param)
				blocked = true
			default:
				args[ev.ParameterName] = ev.Value
			}
		}
		if blocked {
			continue
		}

		result := c.executeWithRetry(ctx, cand.definition.ID, args)
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ToolID:    cand.definition.ID,
			Arguments: args,
			Result:    result,
		})
	}
	return out, nil
}

func (c *Caller) inferWithRetry(ctx context.Context, tcCtx Context, cand candidate) (toolInference, generation.Usage, error) {
	prompt := buildInferencePrompt(tcCtx, cand)
	temps := c.policy.ToolCallingTemperatures()
	backoff := c.policy.RetryBackoff()

	var usage generation.Usage
	var lastErr error
	for attempt, temp := range temps {
		if attempt > 0 {
			delay := backoff[min(attempt-1, len(backoff)-1)]
			select {
			case <-ctx.Done():
				return toolInference{}, usage, ctx.Err()
			case <-time.After(delay):
			}
		}
		inference, u, err := generation.Generate[toolInference](ctx, c.generator, prompt, generation.Hints{Temperature: temp})
		usage = usage.Add(u)
		if err == nil {
			return inference, usage, nil
		}
		if core.IsCancelled(err) {
			return toolInference{}, usage, err
		}
		lastErr = err
	}
	return toolInference{}, usage, lastErr
}

// executeWithRetry invokes the tool, retrying transient failures. After the
// final attempt the failure is captured into the result so the tool event is
// still emitted and the composer can mention it.
func (c *Caller) executeWithRetry(ctx context.Context, id core.ToolID, args map[string]string) core.ToolResult {
	attempts := c.policy.MaxToolExecutionAttempts()
	backoff := c.policy.RetryBackoff()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff[min(attempt-1, len(backoff)-1)]
			select {
			case <-ctx.Done():
				return core.ToolResult{Error: ctx.Err().Error()}
			case <-time.After(delay):
			}
		}
		result, err := c.tools.ExecuteTool(ctx, id, args)
		if err == nil {
			return result
		}
		if core.IsCancelled(err) {
			return core.ToolResult{Error: err.Error()}
		}
		lastErr = err
		c.logger.Warn("tool execution attempt %d failed tool=%s error=%v", attempt+1, id, err)
	}
	return core.ToolResult{Error: lastErr.Error()}
}
