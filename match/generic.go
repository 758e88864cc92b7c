package match

import (
	"context"

	"github.com/parley-ai/parley/core"
)

// genericStrategy is the default matching strategy. It classifies guidelines
// into six buckets and produces one batch kind per bucket:
//
//   - journey-step selection for active journey-node guidelines
//   - observational rules (empty action, no disambiguation targets)
//   - disambiguation heads (empty action, with targets)
//   - previously applied rules with customer-dependent action data
//   - previously applied actionable rules
//   - actionable rules (new or continuous)
type genericStrategy struct{}

var genericStrategyInstance Strategy = genericStrategy{}

func (genericStrategy) Name() string { return "generic" }

type buckets struct {
	journeyStep    []*core.Guideline
	observational  []*core.Guideline
	disambiguation []*core.Guideline
	prevCustomer   []*core.Guideline
	prevActionable []*core.Guideline
	actionable     []*core.Guideline
}

func classify(guidelines []*core.Guideline, mc Context, activeJourneys []*core.Journey) buckets {
	active := map[core.JourneyID]bool{}
	for _, j := range activeJourneys {
		active[j.ID] = true
	}

	var b buckets
	for _, g := range guidelines {
		switch {
		case g.Metadata.JourneyNode != nil:
			// Journey-node guidelines compete for step selection only while
			// their journey is active; otherwise they are out of play.
			if active[g.Metadata.JourneyNode.JourneyID] {
				b.journeyStep = append(b.journeyStep, g)
			}
		case g.IsObservational() && g.IsDisambiguationHead():
			b.disambiguation = append(b.disambiguation, g)
		case g.IsObservational():
			b.observational = append(b.observational, g)
		case mc.State.Applied(g.ID) && !g.Metadata.Continuous && g.Metadata.CustomerDependentActionData:
			b.prevCustomer = append(b.prevCustomer, g)
		case mc.State.Applied(g.ID) && !g.Metadata.Continuous:
			b.prevActionable = append(b.prevActionable, g)
		default:
			b.actionable = append(b.actionable, g)
		}
	}
	return b
}

func (genericStrategy) CreateBatches(
	_ context.Context,
	deps Deps,
	guidelines []*core.Guideline,
	mc Context,
	activeJourneys []*core.Journey,
) ([]Batch, error) {
	b := classify(guidelines, mc, activeJourneys)

	var out []Batch
	appendBatches := func(kind batchKind, bucket []*core.Guideline) {
		if len(bucket) == 0 {
			return
		}
		size := deps.Policy.GuidelineMatchingBatchSize(len(bucket))
		for _, group := range chunk(bucket, size) {
			out = append(out, newGuidelineBatch(kind, deps, group, mc, activeJourneys))
		}
	}

	appendBatches(batchJourneyStep, b.journeyStep)
	appendBatches(batchObservational, b.observational)
	appendBatches(batchDisambiguation, b.disambiguation)
	appendBatches(batchPrevAppliedCustomerDependent, b.prevCustomer)
	appendBatches(batchPrevAppliedActionable, b.prevActionable)
	appendBatches(batchActionable, b.actionable)
	return out, nil
}

// TransformMatches drops journey-node matches whose journey is not in the
// activated set, and ones whose step is not admissible from the journey's
// current path position; everything else passes through unchanged.
func (genericStrategy) TransformMatches(
	mc Context,
	activeJourneys []*core.Journey,
	matches []core.GuidelineMatch,
) []core.GuidelineMatch {
	journeys := map[core.JourneyID]*core.Journey{}
	for _, j := range activeJourneys {
		journeys[j.ID] = j
	}

	admissible := map[core.GuidelineID]bool{}
	for _, j := range activeJourneys {
		for _, g := range j.NextStepCandidates(mc.JourneyPaths[j.ID]) {
			admissible[g.ID] = true
		}
	}

	out := matches[:0]
	for _, m := range matches {
		if ref := m.Guideline.Metadata.JourneyNode; ref != nil {
			if journeys[ref.JourneyID] == nil {
				continue
			}
			if !admissible[m.Guideline.ID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
