package core

import "context"

// GuidelineID uniquely identifies a guideline. Journey-node guidelines use
// the synthetic form "journey_node:<node_id>[:<edge_id>]".
type GuidelineID string

// GuidelineContent is the natural-language condition/action pair of a rule.
// An empty Action makes the guideline observational.
type GuidelineContent struct {
	Condition string `json:"condition"`
	Action    string `json:"action,omitempty"`
}

// JourneyNodeRef ties a projected journey-node guideline back to its graph
// position.
type JourneyNodeRef struct {
	JourneyID JourneyID `json:"journey_id"`
	NodeID    string    `json:"node_id"`
	EdgeID    string    `json:"edge_id,omitempty"`
}

// GuidelineMetadata carries matching-relevant flags.
type GuidelineMetadata struct {
	// Continuous guidelines are re-evaluated each turn regardless of prior
	// application.
	Continuous bool `json:"continuous,omitempty"`

	// CustomerDependentActionData marks actions whose data depends on the
	// customer's latest input, forcing re-evaluation after application.
	CustomerDependentActionData bool `json:"customer_dependent_action_data,omitempty"`

	// JourneyNode is set only on projected journey-node guidelines.
	JourneyNode *JourneyNodeRef `json:"journey_node,omitempty"`

	// DisambiguationTargets turns an observational guideline into a
	// disambiguation head over the listed guidelines.
	DisambiguationTargets []GuidelineID `json:"disambiguation_targets,omitempty"`
}

// Guideline is a behavioral rule the matcher evaluates each turn.
type Guideline struct {
	ID       GuidelineID       `json:"id"`
	Content  GuidelineContent  `json:"content"`
	Enabled  bool              `json:"enabled"`
	Tags     []TagID           `json:"tags,omitempty"`
	Metadata GuidelineMetadata `json:"metadata,omitempty"`
}

// IsObservational reports whether the guideline only observes (empty action).
func (g *Guideline) IsObservational() bool { return g.Content.Action == "" }

// IsDisambiguationHead reports whether the guideline disambiguates between
// target guidelines.
func (g *Guideline) IsDisambiguationHead() bool {
	return len(g.Metadata.DisambiguationTargets) > 0
}

// GuidelineMatch is the matcher's positive decision that a guideline applies
// in the current turn.
type GuidelineMatch struct {
	Guideline *Guideline     `json:"guideline"`
	Score     float64        `json:"score"`
	Rationale string         `json:"rationale"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GuidelineStore lists behavioral rules scoped by tags.
type GuidelineStore interface {
	ListGuidelines(ctx context.Context, tags []TagID) ([]*Guideline, error)
}

// GuidelineToolAssociation binds a guideline to a tool it may trigger.
// Association is by exact id, never semantic.
type GuidelineToolAssociation struct {
	GuidelineID GuidelineID `json:"guideline_id"`
	ToolID      ToolID      `json:"tool_id"`
}

// GuidelineToolAssociationStore enumerates guideline-tool bindings.
type GuidelineToolAssociationStore interface {
	FindAllAssociations(ctx context.Context) ([]GuidelineToolAssociation, error)
}
