// Package store provides in-memory implementations of the engine's
// non-session stores: agents, customers, guidelines, journeys, canned
// responses, glossary terms, context variables, capabilities, tool
// associations and inspections. They are thread-safe and suitable for
// development, tests and single-node deployments seeded from definition
// files.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/parley-ai/parley/core"
)

// InMemory aggregates all non-session stores behind one registry.
type InMemory struct {
	mu             sync.RWMutex
	agents         map[core.AgentID]*core.Agent
	customers      map[core.CustomerID]*core.Customer
	guidelines     []*core.Guideline
	journeys       map[core.JourneyID]*core.Journey
	canned         []*core.CannedResponse
	terms          []core.Term
	variables      map[string][]core.ContextVariable // key agentID/customerID
	capabilities   map[core.AgentID][]core.Capability
	guidelineTools []core.GuidelineToolAssociation
	nodeTools      map[string][]core.ToolID
	inspections    []core.Inspection
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		agents:       map[core.AgentID]*core.Agent{},
		customers:    map[core.CustomerID]*core.Customer{},
		journeys:     map[core.JourneyID]*core.Journey{},
		variables:    map[string][]core.ContextVariable{},
		capabilities: map[core.AgentID][]core.Capability{},
		nodeTools:    map[string][]core.ToolID{},
	}
}

// AddAgent registers an agent.
func (s *InMemory) AddAgent(a *core.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

// ReadAgent implements core.AgentStore.
func (s *InMemory) ReadAgent(_ context.Context, id core.AgentID) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	clone := *a
	return &clone, nil
}

// AddCustomer registers a customer.
func (s *InMemory) AddCustomer(c *core.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// ReadCustomer implements core.CustomerStore. Unknown ids resolve to a
// guest customer so anonymous sessions keep working.
func (s *InMemory) ReadCustomer(_ context.Context, id core.CustomerID) (*core.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.customers[id]; ok {
		clone := *c
		return &clone, nil
	}
	return &core.Customer{ID: id, Name: "Guest"}, nil
}

// AddGuideline registers a guideline.
func (s *InMemory) AddGuideline(g *core.Guideline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guidelines = append(s.guidelines, g)
}

// ListGuidelines implements core.GuidelineStore. With tags, only guidelines
// carrying at least one of them are returned; enabled filtering is left to
// the caller's matcher.
func (s *InMemory) ListGuidelines(_ context.Context, tags []core.TagID) ([]*core.Guideline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Guideline
	for _, g := range s.guidelines {
		if len(tags) > 0 && !hasAnyTag(g.Tags, tags) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func hasAnyTag(have, want []core.TagID) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// AddJourney registers a journey.
func (s *InMemory) AddJourney(j *core.Journey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journeys[j.ID] = j
}

// ReadJourney implements core.JourneyStore.
func (s *InMemory) ReadJourney(_ context.Context, id core.JourneyID) (*core.Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.journeys[id]
	if !ok {
		return nil, fmt.Errorf("journey %s not found", id)
	}
	return j, nil
}

// ListJourneys implements core.JourneyStore.
func (s *InMemory) ListJourneys(_ context.Context) ([]*core.Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Journey, 0, len(s.journeys))
	for _, j := range s.journeys {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// FindRelevantJourneys ranks available journeys by naive token overlap of
// title+description against the query. Vector retrieval belongs to an
// external collaborator; this keeps the in-memory store self-contained.
func (s *InMemory) FindRelevantJourneys(
	ctx context.Context,
	query string,
	available []core.JourneyID,
	maxN int,
) ([]*core.Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		journey *core.Journey
		score   int
	}
	queryTokens := tokenize(query)
	var ranked []scored
	for _, id := range available {
		j, ok := s.journeys[id]
		if !ok {
			continue
		}
		score := overlap(queryTokens, tokenize(j.Title+" "+j.Description))
		ranked = append(ranked, scored{journey: j, score: score})
	}
	sort.SliceStable(ranked, func(i, k int) bool { return ranked[i].score > ranked[k].score })
	if maxN > 0 && len(ranked) > maxN {
		ranked = ranked[:maxN]
	}
	out := make([]*core.Journey, len(ranked))
	for i, r := range ranked {
		out[i] = r.journey
	}
	return out, nil
}

// AddCannedResponse registers a template.
func (s *InMemory) AddCannedResponse(c *core.CannedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned = append(s.canned, c)
}

// FindForContext implements core.CannedResponseStore. The in-memory store
// returns every registered template; relevance ranking happens in the
// composer against the draft.
func (s *InMemory) FindForContext(
	_ context.Context,
	_ core.AgentID,
	_ []core.JourneyID,
	_ []core.GuidelineID,
) ([]*core.CannedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.CannedResponse(nil), s.canned...), nil
}

// AddTerm registers a glossary term.
func (s *InMemory) AddTerm(t core.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms = append(s.terms, t)
}

// FindRelevantTerms implements core.GlossaryStore by token overlap against
// name, synonyms and description.
func (s *InMemory) FindRelevantTerms(_ context.Context, query string, maxTerms int) ([]core.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTokens := tokenize(query)
	type scored struct {
		term  core.Term
		score int
	}
	var ranked []scored
	for _, t := range s.terms {
		text := t.Name + " " + strings.Join(t.Synonyms, " ") + " " + t.Description
		if score := overlap(queryTokens, tokenize(text)); score > 0 {
			ranked = append(ranked, scored{term: t, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, k int) bool { return ranked[i].score > ranked[k].score })
	if maxTerms > 0 && len(ranked) > maxTerms {
		ranked = ranked[:maxTerms]
	}
	out := make([]core.Term, len(ranked))
	for i, r := range ranked {
		out[i] = r.term
	}
	return out, nil
}

// SetVariables registers context variables for an agent/customer pair.
func (s *InMemory) SetVariables(agentID core.AgentID, customerID core.CustomerID, vars []core.ContextVariable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[variableKey(agentID, customerID)] = vars
}

// ListVariables implements core.ContextVariableStore.
func (s *InMemory) ListVariables(
	_ context.Context,
	agentID core.AgentID,
	customerID core.CustomerID,
) ([]core.ContextVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.ContextVariable(nil), s.variables[variableKey(agentID, customerID)]...), nil
}

func variableKey(agentID core.AgentID, customerID core.CustomerID) string {
	return string(agentID) + "/" + string(customerID)
}

// SetCapabilities registers capabilities for an agent.
func (s *InMemory) SetCapabilities(agentID core.AgentID, caps []core.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[agentID] = caps
}

// FindCapabilities implements core.CapabilityStore.
func (s *InMemory) FindCapabilities(_ context.Context, agentID core.AgentID) ([]core.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Capability(nil), s.capabilities[agentID]...), nil
}

// AssociateGuidelineTool binds a guideline to a tool.
func (s *InMemory) AssociateGuidelineTool(guidelineID core.GuidelineID, toolID core.ToolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guidelineTools = append(s.guidelineTools, core.GuidelineToolAssociation{
		GuidelineID: guidelineID,
		ToolID:      toolID,
	})
}

// FindAllAssociations implements core.GuidelineToolAssociationStore.
func (s *InMemory) FindAllAssociations(_ context.Context) ([]core.GuidelineToolAssociation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.GuidelineToolAssociation(nil), s.guidelineTools...), nil
}

// AssociateNodeTool binds a journey node to a tool.
func (s *InMemory) AssociateNodeTool(nodeID string, toolID core.ToolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeTools[nodeID] = append(s.nodeTools[nodeID], toolID)
}

// FindNodeTools implements core.JourneyNodeToolAssociationStore.
func (s *InMemory) FindNodeTools(_ context.Context, nodeID string) ([]core.ToolID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.ToolID(nil), s.nodeTools[nodeID]...), nil
}

// CreateInspection implements core.InspectionStore.
func (s *InMemory) CreateInspection(_ context.Context, ins core.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inspections = append(s.inspections, ins)
	return nil
}

// Inspections returns recorded inspection records, newest last.
func (s *InMemory) Inspections() []core.Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Inspection(nil), s.inspections...)
}

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		tokens[strings.Trim(f, ".,!?;:'\"()")] = true
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if t != "" && b[t] {
			n++
		}
	}
	return n
}
