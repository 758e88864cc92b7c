package match

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPolicy struct{}

func (testPolicy) GuidelineMatchingBatchSize(n int) int {
	switch {
	case n <= 10:
		return 1
	case n <= 20:
		return 2
	case n <= 30:
		return 3
	default:
		return 5
	}
}
func (testPolicy) GuidelineMatchingTemperatures() []float64 { return []float64{0.15, 0.3, 0.1} }
func (testPolicy) ResponseAnalysisTemperatures() []float64  { return []float64{0.15, 0.3} }
func (testPolicy) RetryBackoff() []time.Duration            { return []time.Duration{time.Millisecond} }
func (testPolicy) MaxHistoryForGuidelineMatching() int      { return 10 }

var guidelineIDPattern = regexp.MustCompile(`- id: (\S+)`)

// decideByID answers every guideline listed in the prompt, applying those
// whose id is in the applies set.
func decideByID(applies map[string]bool) generation.MockHandler {
	return func(prompt string, _ generation.Hints) (any, error) {
		var decisions []map[string]any
		for _, m := range guidelineIDPattern.FindAllStringSubmatch(prompt, -1) {
			id := m[1]
			decisions = append(decisions, map[string]any{
				"guideline_id": id,
				"applies":      applies[id],
				"score":        0.9,
				"rationale":    "test decision",
			})
		}
		return map[string]any{"decisions": decisions}, nil
	}
}

func testContext() Context {
	return Context{
		Agent:    &core.Agent{ID: "a1", Name: "Testbot", Description: "a helpful assistant"},
		Customer: &core.Customer{ID: "c1", Name: "Customer"},
	}
}

func newTestMatcher(gen generation.SchematicGenerator) *Matcher {
	return NewMatcher(func(o *Options) {
		o.Generator = gen
		o.Policy = testPolicy{}
	})
}

func TestMatchEmptyGuidelineSetMakesNoLLMCalls(t *testing.T) {
	gen := generation.NewMockGenerator()
	m := newTestMatcher(gen)

	result, err := m.Match(context.Background(), testContext(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Zero(t, gen.CallCount())
}

func TestMatchAppliesDecisionsAndPreservesOrder(t *testing.T) {
	gen := generation.NewMockGenerator().Default(decideByID(map[string]bool{
		"greet": true, "location": true,
	}))
	m := newTestMatcher(gen)

	guidelines := []*core.Guideline{
		{ID: "greet", Content: core.GuidelineContent{Condition: "customer greets", Action: "greet back"}, Enabled: true},
		{ID: "weather", Content: core.GuidelineContent{Condition: "asks about pricing", Action: "quote prices"}, Enabled: true},
		{ID: "location", Content: core.GuidelineContent{Condition: "weather question without city", Action: "ask for the city"}, Enabled: true},
	}
	result, err := m.Match(context.Background(), testContext(), nil, guidelines)
	require.NoError(t, err)

	require.Len(t, result.Matches, 2)
	assert.Equal(t, core.GuidelineID("greet"), result.Matches[0].Guideline.ID)
	assert.Equal(t, core.GuidelineID("location"), result.Matches[1].Guideline.ID)
	assert.Equal(t, 0.9, result.Matches[0].Score)

	// Batch size 1 for small sets: one call per guideline.
	assert.Equal(t, 3, gen.CallCount())
	assert.Len(t, result.BatchGenerations, 3)
	assert.Greater(t, result.Usage().Total(), 0)
}

func TestMatchSkipsDisabledGuidelines(t *testing.T) {
	gen := generation.NewMockGenerator().Default(decideByID(map[string]bool{"off": true}))
	m := newTestMatcher(gen)

	guidelines := []*core.Guideline{
		{ID: "off", Content: core.GuidelineContent{Condition: "x", Action: "y"}, Enabled: false},
	}
	result, err := m.Match(context.Background(), testContext(), nil, guidelines)
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Zero(t, gen.CallCount())
}

func TestMatchRetriesFailedBatch(t *testing.T) {
	attempts := 0
	gen := generation.NewMockGenerator().Default(func(prompt string, hints generation.Hints) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("transient provider error")
		}
		return decideByID(map[string]bool{"g1": true})(prompt, hints)
	})
	m := newTestMatcher(gen)

	guidelines := []*core.Guideline{
		{ID: "g1", Content: core.GuidelineContent{Condition: "x", Action: "y"}, Enabled: true},
	}
	result, err := m.Match(context.Background(), testContext(), nil, guidelines)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, 2, attempts)
}

func TestMatchDropsInactiveJourneyNodeGuidelines(t *testing.T) {
	gen := generation.NewMockGenerator().Default(decideByID(map[string]bool{
		"journey_node:n1": true,
	}))
	m := newTestMatcher(gen)

	node := &core.Guideline{
		ID:      "journey_node:n1",
		Content: core.GuidelineContent{Condition: "step reached", Action: "do the step"},
		Enabled: true,
		Metadata: core.GuidelineMetadata{
			JourneyNode: &core.JourneyNodeRef{JourneyID: "j1", NodeID: "n1"},
		},
	}

	// Journey j1 not active: the guideline is out of play entirely.
	result, err := m.Match(context.Background(), testContext(), nil, []*core.Guideline{node})
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Zero(t, gen.CallCount())

	// With j1 active it matches through the journey-step batch.
	journey := &core.Journey{ID: "j1", Title: "Process", Root: "n1", Nodes: map[string]core.JourneyNode{"n1": {ID: "n1"}}}
	result, err = m.Match(context.Background(), testContext(), []*core.Journey{journey}, []*core.Guideline{node})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
}

func TestMatchDropsJourneyStepsOffTheCurrentPath(t *testing.T) {
	journey := &core.Journey{
		ID:    "j1",
		Title: "Booking",
		Root:  "n1",
		Nodes: map[string]core.JourneyNode{
			"n1": {ID: "n1", Action: "ask destination"},
			"n2": {ID: "n2", Action: "ask dates"},
			"n3": {ID: "n3", Action: "confirm"},
		},
		Edges: []core.JourneyEdge{
			{ID: "e1", From: "n1", To: "n2", Condition: "destination given"},
			{ID: "e2", From: "n2", To: "n3", Condition: "dates given"},
		},
	}

	// The path sits at n1, so only n1's outgoing transition is admissible.
	// The model is scripted to claim both steps apply; the off-path one must
	// not survive TransformMatches.
	gen := generation.NewMockGenerator().Default(decideByID(map[string]bool{
		"journey_node:n2:e1": true,
		"journey_node:n3:e2": true,
	}))
	m := newTestMatcher(gen)

	mc := testContext()
	mc.JourneyPaths = map[core.JourneyID][]core.GuidelineID{
		"j1": {"journey_node:n1"},
	}

	var guidelines []*core.Guideline
	for _, g := range journey.ProjectNodeGuidelines() {
		if g.ID != "journey_node:n1" {
			guidelines = append(guidelines, g)
		}
	}

	result, err := m.Match(context.Background(), mc, []*core.Journey{journey}, guidelines)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, core.GuidelineID("journey_node:n2:e1"), result.Matches[0].Guideline.ID)
}

func TestJourneyStepPromptNamesCurrentStep(t *testing.T) {
	journey := &core.Journey{
		ID:    "j1",
		Title: "Booking",
		Root:  "n1",
		Nodes: map[string]core.JourneyNode{
			"n1": {ID: "n1", Action: "ask destination"},
			"n2": {ID: "n2", Action: "ask dates"},
		},
		Edges: []core.JourneyEdge{
			{ID: "e1", From: "n1", To: "n2", Condition: "destination given"},
		},
	}
	mc := testContext()
	mc.JourneyPaths = map[core.JourneyID][]core.GuidelineID{"j1": {"journey_node:n1"}}

	prompt := buildBatchPrompt(batchJourneyStep, mc, journey.NextStepCandidates(mc.JourneyPaths["j1"]), []*core.Journey{journey})
	assert.Contains(t, prompt, "current step: ask destination")
}

func TestClassifyBuckets(t *testing.T) {
	applied := core.AgentState{AppliedGuidelineIDs: []core.GuidelineID{"done", "dep"}}
	mc := Context{State: applied}

	journey := &core.Journey{ID: "j1"}
	guidelines := []*core.Guideline{
		{ID: "journey_node:n1", Enabled: true, Content: core.GuidelineContent{Action: "a"},
			Metadata: core.GuidelineMetadata{JourneyNode: &core.JourneyNodeRef{JourneyID: "j1", NodeID: "n1"}}},
		{ID: "obs", Enabled: true, Content: core.GuidelineContent{Condition: "c"}},
		{ID: "dis", Enabled: true, Content: core.GuidelineContent{Condition: "c"},
			Metadata: core.GuidelineMetadata{DisambiguationTargets: []core.GuidelineID{"x", "y"}}},
		{ID: "dep", Enabled: true, Content: core.GuidelineContent{Condition: "c", Action: "a"},
			Metadata: core.GuidelineMetadata{CustomerDependentActionData: true}},
		{ID: "done", Enabled: true, Content: core.GuidelineContent{Condition: "c", Action: "a"}},
		{ID: "fresh", Enabled: true, Content: core.GuidelineContent{Condition: "c", Action: "a"}},
		{ID: "cont", Enabled: true, Content: core.GuidelineContent{Condition: "c", Action: "a"},
			Metadata: core.GuidelineMetadata{Continuous: true}},
	}

	b := classify(guidelines, mc, []*core.Journey{journey})
	assert.Len(t, b.journeyStep, 1)
	assert.Len(t, b.observational, 1)
	assert.Len(t, b.disambiguation, 1)
	assert.Len(t, b.prevCustomer, 1)
	assert.Len(t, b.prevActionable, 1)
	// Continuous guidelines are re-evaluated as actionable even if applied.
	assert.Len(t, b.actionable, 2)
}

func TestChunking(t *testing.T) {
	var guidelines []*core.Guideline
	for i := 0; i < 7; i++ {
		guidelines = append(guidelines, &core.Guideline{ID: core.GuidelineID(fmt.Sprintf("g%d", i))})
	}
	groups := chunk(guidelines, 3)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 3)
	assert.Len(t, groups[1], 3)
	assert.Len(t, groups[2], 1)
}
