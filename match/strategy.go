package match

import (
	"context"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/generation"
)

// Deps hands strategies the collaborators they need to build batches.
type Deps struct {
	Generator generation.SchematicGenerator
	Policy    Policy
}

// Strategy turns a set of guidelines into processable batches and
// post-processes the merged matches.
type Strategy interface {
	// Name identifies the strategy class for grouping.
	Name() string

	// CreateBatches partitions the guidelines into LLM evaluation batches.
	CreateBatches(
		ctx context.Context,
		deps Deps,
		guidelines []*core.Guideline,
		mc Context,
		activeJourneys []*core.Journey,
	) ([]Batch, error)

	// TransformMatches post-processes the merged matches of this strategy's
	// batches. Most strategies return them unchanged.
	TransformMatches(mc Context, activeJourneys []*core.Journey, matches []core.GuidelineMatch) []core.GuidelineMatch
}

// Batch is one LLM evaluation unit.
type Batch interface {
	Label() string
	Process(ctx context.Context, hints generation.Hints) (BatchResult, error)
}

// BatchResult carries a batch's matches and token usage.
type BatchResult struct {
	Matches []core.GuidelineMatch
	Usage   generation.Usage
}

// StrategyResolver picks the strategy for a guideline via the priority
// chain: per-guideline override, then per-tag override, then the generic
// default.
type StrategyResolver struct {
	guidelineOverrides map[core.GuidelineID]Strategy
	tagOverrides       map[core.TagID]Strategy
	fallback           Strategy
}

// NewStrategyResolver builds a resolver; nil maps are allowed.
func NewStrategyResolver(
	guidelineOverrides map[core.GuidelineID]Strategy,
	tagOverrides map[core.TagID]Strategy,
) *StrategyResolver {
	return &StrategyResolver{
		guidelineOverrides: guidelineOverrides,
		tagOverrides:       tagOverrides,
		fallback:           nil,
	}
}

// WithFallback overrides the default generic strategy.
func (r *StrategyResolver) WithFallback(s Strategy) *StrategyResolver {
	r.fallback = s
	return r
}

// Resolve returns the strategy for the guideline.
func (r *StrategyResolver) Resolve(g *core.Guideline) Strategy {
	if s, ok := r.guidelineOverrides[g.ID]; ok {
		return s
	}
	for _, tag := range g.Tags {
		if s, ok := r.tagOverrides[tag]; ok {
			return s
		}
	}
	if r.fallback != nil {
		return r.fallback
	}
	return genericStrategyInstance
}

// chunk splits guidelines into groups of at most size.
func chunk(guidelines []*core.Guideline, size int) [][]*core.Guideline {
	if size < 1 {
		size = 1
	}
	var out [][]*core.Guideline
	for start := 0; start < len(guidelines); start += size {
		end := min(start+size, len(guidelines))
		out = append(out, guidelines[start:end])
	}
	return out
}
