// Package match implements the guideline matcher: strategy-based, parallel,
// batched LLM evaluation of which guidelines apply in the current turn, plus
// the post-reply response analysis that decides which matched guidelines
// count as applied.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/logging"
	"golang.org/x/sync/errgroup"
)

// Context is the read-only working set a matching pass evaluates against.
// JourneyPaths carries, per journey, the journey-node guideline ids matched
// on previous turns; journey-step matching is constrained to steps
// admissible from that position.
type Context struct {
	Agent        *core.Agent
	Customer     *core.Customer
	Interaction  []core.Event
	Terms        []core.Term
	Variables    []core.ContextVariable
	StagedCalls  []core.ToolCall
	State        core.AgentState
	JourneyPaths map[core.JourneyID][]core.GuidelineID
}

// Result is the outcome of one matching pass.
type Result struct {
	Matches          []core.GuidelineMatch
	BatchGenerations []generation.Usage
	TotalDuration    time.Duration
}

// Usage sums the token usage across all batch generations.
func (r Result) Usage() generation.Usage {
	var u generation.Usage
	for _, g := range r.BatchGenerations {
		u = u.Add(g)
	}
	return u
}

// Policy supplies the tunables a matching pass needs. The engine's
// optimization policy satisfies it.
type Policy interface {
	GuidelineMatchingBatchSize(guidelineCount int) int
	GuidelineMatchingTemperatures() []float64
	ResponseAnalysisTemperatures() []float64
	RetryBackoff() []time.Duration
	MaxHistoryForGuidelineMatching() int
}

// Options configures a Matcher.
type Options struct {
	Generator generation.SchematicGenerator
	Policy    Policy
	Logger    logging.Logger
	Resolver  *StrategyResolver
}

// Matcher evaluates guidelines against the current turn.
type Matcher struct {
	generator generation.SchematicGenerator
	policy    Policy
	logger    logging.Logger
	resolver  *StrategyResolver
}

// NewMatcher constructs a Matcher. A nil resolver falls back to the generic
// strategy for every guideline.
func NewMatcher(optFns ...func(o *Options)) *Matcher {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Resolver == nil {
		opts.Resolver = NewStrategyResolver(nil, nil)
	}
	return &Matcher{
		generator: opts.Generator,
		policy:    opts.Policy,
		logger:    opts.Logger,
		resolver:  opts.Resolver,
	}
}

type strategyGroup struct {
	name       string
	strategy   Strategy
	guidelines []*core.Guideline
}

// Match runs strategy resolution, batch creation and parallel batch
// processing, then merges results preserving input order within batches.
// An empty guideline set returns an empty result without any LLM calls.
func (m *Matcher) Match(
	ctx context.Context,
	mc Context,
	activeJourneys []*core.Journey,
	guidelines []*core.Guideline,
) (Result, error) {
	if len(guidelines) == 0 {
		return Result{}, nil
	}
	start := time.Now()

	if maxN := m.policy.MaxHistoryForGuidelineMatching(); maxN > 0 && len(mc.Interaction) > maxN {
		mc.Interaction = mc.Interaction[len(mc.Interaction)-maxN:]
	}

	// Group guidelines by strategy class, preserving first-seen order.
	var groups []*strategyGroup
	byName := map[string]*strategyGroup{}
	for _, g := range guidelines {
		if !g.Enabled {
			continue
		}
		strategy := m.resolver.Resolve(g)
		name := strategy.Name()
		group, ok := byName[name]
		if !ok {
			group = &strategyGroup{name: name, strategy: strategy}
			byName[name] = group
			groups = append(groups, group)
		}
		group.guidelines = append(group.guidelines, g)
	}

	// Create batches per strategy concurrently.
	deps := Deps{Generator: m.generator, Policy: m.policy}
	batchesPerGroup := make([][]Batch, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, group := range groups {
		eg.Go(func() error {
			batches, err := group.strategy.CreateBatches(egCtx, deps, group.guidelines, mc, activeJourneys)
			if err != nil {
				return fmt.Errorf("create %s batches: %w", group.name, err)
			}
			batchesPerGroup[i] = batches
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	// Process every batch concurrently.
	var allBatches []Batch
	for _, batches := range batchesPerGroup {
		allBatches = append(allBatches, batches...)
	}
	results := make([]BatchResult, len(allBatches))
	eg, egCtx = errgroup.WithContext(ctx)
	for i, b := range allBatches {
		eg.Go(func() error {
			res, err := m.processWithRetry(egCtx, b)
			if err != nil {
				return fmt.Errorf("batch %s: %w", b.Label(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	// Merge per strategy group, letting each strategy post-process its own
	// matches.
	var merged []core.GuidelineMatch
	var generations []generation.Usage
	offset := 0
	for gi, group := range groups {
		var groupMatches []core.GuidelineMatch
		for range batchesPerGroup[gi] {
			groupMatches = append(groupMatches, results[offset].Matches...)
			generations = append(generations, results[offset].Usage)
			offset++
		}
		merged = append(merged, group.strategy.TransformMatches(mc, activeJourneys, groupMatches)...)
	}

	m.logger.Debug("guideline matching completed guidelines=%d batches=%d matches=%d",
		len(guidelines), len(allBatches), len(merged))

	return Result{
		Matches:          merged,
		BatchGenerations: generations,
		TotalDuration:    time.Since(start),
	}, nil
}

// processWithRetry runs one batch with the policy's temperature schedule,
// backing off between attempts. Only the final attempt's error propagates.
func (m *Matcher) processWithRetry(ctx context.Context, b Batch) (BatchResult, error) {
	temps := m.policy.GuidelineMatchingTemperatures()
	backoff := m.policy.RetryBackoff()

	var lastErr error
	for attempt, temp := range temps {
		if attempt > 0 {
			delay := backoff[min(attempt-1, len(backoff)-1)]
			select {
			case <-ctx.Done():
				return BatchResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		res, err := b.Process(ctx, generation.Hints{Temperature: temp})
		if err == nil {
			return res, nil
		}
		if core.IsCancelled(err) {
			return BatchResult{}, err
		}
		lastErr = err
		m.logger.Warn("batch %s attempt %d failed: %v", b.Label(), attempt+1, err)
	}
	return BatchResult{}, lastErr
}
