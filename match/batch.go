package match

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/generation"
)

// batchKind labels the six generic bucket batch types.
type batchKind string

const (
	batchJourneyStep                  batchKind = "journey-step-selection"
	batchObservational                batchKind = "observational"
	batchDisambiguation               batchKind = "disambiguation"
	batchPrevAppliedCustomerDependent batchKind = "previously-applied-customer-dependent"
	batchPrevAppliedActionable        batchKind = "previously-applied-actionable"
	batchActionable                   batchKind = "actionable"
)

// guidelineDecision is the per-guideline verdict returned by a batch's LLM
// call. The model answers in input order; merging is still keyed by id to
// survive reordering.
type guidelineDecision struct {
	GuidelineID string  `json:"guideline_id" description:"id of the evaluated guideline"`
	Applies     bool    `json:"applies" description:"whether the guideline's condition holds for the current turn"`
	Score       float64 `json:"score" description:"confidence between 0 and 1"`
	Rationale   string  `json:"rationale" description:"one-sentence justification"`
}

type batchDecisions struct {
	Decisions []guidelineDecision `json:"decisions"`
}

// guidelineBatch evaluates one group of same-bucket guidelines in a single
// LLM call.
type guidelineBatch struct {
	kind       batchKind
	deps       Deps
	guidelines []*core.Guideline
	mc         Context
	journeys   []*core.Journey
}

func newGuidelineBatch(
	kind batchKind,
	deps Deps,
	guidelines []*core.Guideline,
	mc Context,
	journeys []*core.Journey,
) *guidelineBatch {
	return &guidelineBatch{kind: kind, deps: deps, guidelines: guidelines, mc: mc, journeys: journeys}
}

// Label identifies the batch in logs and errors.
func (b *guidelineBatch) Label() string {
	return fmt.Sprintf("%s[%d]", b.kind, len(b.guidelines))
}

// Process issues the batch's LLM call and maps decisions back onto the
// input guidelines, preserving input order.
func (b *guidelineBatch) Process(ctx context.Context, hints generation.Hints) (BatchResult, error) {
	prompt := buildBatchPrompt(b.kind, b.mc, b.guidelines, b.journeys)

	decisions, usage, err := generation.Generate[batchDecisions](ctx, b.deps.Generator, prompt, hints)
	if err != nil {
		return BatchResult{}, err
	}

	byID := make(map[string]guidelineDecision, len(decisions.Decisions))
	for _, d := range decisions.Decisions {
		byID[d.GuidelineID] = d
	}

	var matches []core.GuidelineMatch
	for _, g := range b.guidelines {
		d, ok := byID[string(g.ID)]
		if !ok || !d.Applies {
			continue
		}
		score := d.Score
		if score <= 0 || score > 1 {
			score = 1
		}
		matches = append(matches, core.GuidelineMatch{
			Guideline: g,
			Score:     score,
			Rationale: d.Rationale,
		})
	}
	return BatchResult{Matches: matches, Usage: usage}, nil
}
