package config

import (
	"fmt"
	"os"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/store"
	"gopkg.in/yaml.v3"
)

// Definitions is the YAML-loadable static configuration of a deployment:
// agents, guidelines, journeys, glossary, canned responses and tool
// associations.
type Definitions struct {
	Agents     []AgentDef     `yaml:"agents"`
	Guidelines []GuidelineDef `yaml:"guidelines"`
	Journeys   []JourneyDef   `yaml:"journeys"`
	Terms      []TermDef      `yaml:"glossary"`
	Canned     []CannedDef    `yaml:"canned_responses"`
}

// AgentDef declares an agent.
type AgentDef struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description"`
	CompositionMode     string   `yaml:"composition_mode"`
	MaxEngineIterations int      `yaml:"max_engine_iterations"`
	Tags                []string `yaml:"tags"`
}

// GuidelineDef declares a guideline and its optional tool bindings.
type GuidelineDef struct {
	ID         string   `yaml:"id"`
	Condition  string   `yaml:"condition"`
	Action     string   `yaml:"action"`
	Enabled    *bool    `yaml:"enabled"`
	Continuous bool     `yaml:"continuous"`
	Tags       []string `yaml:"tags"`
	Tools      []string `yaml:"tools"` // "service:tool" ids
}

// JourneyDef declares a journey graph.
type JourneyDef struct {
	ID          string           `yaml:"id"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description"`
	Root        string           `yaml:"root"`
	Nodes       []JourneyNodeDef `yaml:"nodes"`
	Edges       []JourneyEdgeDef `yaml:"edges"`
}

// JourneyNodeDef declares one node and its optional tool bindings.
type JourneyNodeDef struct {
	ID     string   `yaml:"id"`
	Action string   `yaml:"action"`
	Tools  []string `yaml:"tools"`
}

// JourneyEdgeDef declares one edge.
type JourneyEdgeDef struct {
	ID        string `yaml:"id"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
}

// TermDef declares a glossary term.
type TermDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Synonyms    []string `yaml:"synonyms"`
}

// CannedDef declares a canned response template.
type CannedDef struct {
	ID       string   `yaml:"id"`
	Template string   `yaml:"template"`
	Signals  []string `yaml:"signals"`
	Tags     []string `yaml:"tags"`
}

// LoadDefinitions parses a YAML definitions file.
func LoadDefinitions(path string) (*Definitions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	return &defs, nil
}

// Apply seeds the in-memory registry from the definitions.
func (d *Definitions) Apply(reg *store.InMemory) error {
	for _, a := range d.Agents {
		mode := core.CompositionMode(a.CompositionMode)
		if mode == "" {
			mode = core.CompositionModeFluid
		}
		iterations := a.MaxEngineIterations
		if iterations <= 0 {
			iterations = 3
		}
		reg.AddAgent(&core.Agent{
			ID:                  core.AgentID(a.ID),
			Name:                a.Name,
			Description:         a.Description,
			CompositionMode:     mode,
			MaxEngineIterations: iterations,
			Tags:                toTags(a.Tags),
		})
	}

	for _, g := range d.Guidelines {
		enabled := true
		if g.Enabled != nil {
			enabled = *g.Enabled
		}
		reg.AddGuideline(&core.Guideline{
			ID:      core.GuidelineID(g.ID),
			Content: core.GuidelineContent{Condition: g.Condition, Action: g.Action},
			Enabled: enabled,
			Tags:    toTags(g.Tags),
			Metadata: core.GuidelineMetadata{
				Continuous: g.Continuous,
			},
		})
		for _, t := range g.Tools {
			id, err := core.ParseToolID(t)
			if err != nil {
				return fmt.Errorf("guideline %s: %w", g.ID, err)
			}
			reg.AssociateGuidelineTool(core.GuidelineID(g.ID), id)
		}
	}

	for _, j := range d.Journeys {
		nodes := map[string]core.JourneyNode{}
		for _, n := range j.Nodes {
			nodes[n.ID] = core.JourneyNode{ID: n.ID, Action: n.Action}
			for _, t := range n.Tools {
				id, err := core.ParseToolID(t)
				if err != nil {
					return fmt.Errorf("journey %s node %s: %w", j.ID, n.ID, err)
				}
				reg.AssociateNodeTool(n.ID, id)
			}
		}
		edges := make([]core.JourneyEdge, len(j.Edges))
		for i, e := range j.Edges {
			edges[i] = core.JourneyEdge{ID: e.ID, From: e.From, To: e.To, Condition: e.Condition}
		}
		reg.AddJourney(&core.Journey{
			ID:          core.JourneyID(j.ID),
			Title:       j.Title,
			Description: j.Description,
			Root:        j.Root,
			Nodes:       nodes,
			Edges:       edges,
		})
	}

	for _, t := range d.Terms {
		reg.AddTerm(core.Term{ID: core.NewID(), Name: t.Name, Description: t.Description, Synonyms: t.Synonyms})
	}

	for _, c := range d.Canned {
		reg.AddCannedResponse(&core.CannedResponse{
			ID:       c.ID,
			Template: c.Template,
			Signals:  c.Signals,
			Tags:     toTags(c.Tags),
		})
	}
	return nil
}

func toTags(in []string) []core.TagID {
	out := make([]core.TagID, len(in))
	for i, t := range in {
		out[i] = core.TagID(t)
	}
	return out
}
