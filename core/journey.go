package core

import (
	"context"
	"strings"
)

// JourneyID uniquely identifies a journey.
type JourneyID string

// JourneyNode is a step in a multi-turn process. Its action becomes the
// action of the projected journey-node guideline.
type JourneyNode struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// JourneyEdge is a directed transition between nodes with an optional
// natural-language condition.
type JourneyEdge struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Journey is a node-edge graph encoding a multi-step process. The graph may
// contain cycles; projection guards against revisiting (edge, node) pairs.
type Journey struct {
	ID          JourneyID              `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Root        string                 `json:"root"`
	Nodes       map[string]JourneyNode `json:"nodes"`
	Edges       []JourneyEdge          `json:"edges"`
	Tags        []TagID                `json:"tags,omitempty"`
}

// JourneyNodeGuidelineID builds the synthetic guideline id projected from a
// (node, edge) pair.
func JourneyNodeGuidelineID(nodeID, edgeID string) GuidelineID {
	if edgeID == "" {
		return GuidelineID("journey_node:" + nodeID)
	}
	return GuidelineID("journey_node:" + nodeID + ":" + edgeID)
}

// ParseJourneyNodeGuidelineID splits a synthetic journey-node guideline id
// into its node and optional edge components. ok is false for ordinary ids.
func ParseJourneyNodeGuidelineID(id GuidelineID) (nodeID, edgeID string, ok bool) {
	s := string(id)
	if !strings.HasPrefix(s, "journey_node:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(s, "journey_node:")
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	return rest, "", true
}

// CurrentPathNode returns the node id of the last step recorded on a
// journey path, or the empty string when no step has been recorded yet (no
// entries, or only "" entries).
func CurrentPathNode(path []GuidelineID) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == "" {
			continue
		}
		if nodeID, _, ok := ParseJourneyNodeGuidelineID(path[i]); ok {
			return nodeID
		}
	}
	return ""
}

// NextStepCandidates projects only the steps admissible from the journey's
// recorded path position: the root step when the journey has not started,
// plus one step per edge leaving the current node. Matching over these
// keeps the conversation from jumping to arbitrary nodes of the graph.
func (j *Journey) NextStepCandidates(path []GuidelineID) []*Guideline {
	var out []*Guideline
	current := CurrentPathNode(path)

	if current == "" {
		root, ok := j.Nodes[j.Root]
		if !ok {
			return nil
		}
		out = append(out, j.projectStep(nil, root))
		current = root.ID
	}

	for i := range j.Edges {
		edge := j.Edges[i]
		if edge.From != current {
			continue
		}
		to, ok := j.Nodes[edge.To]
		if !ok {
			continue
		}
		out = append(out, j.projectStep(&edge, to))
	}
	return out
}

func (j *Journey) projectStep(edge *JourneyEdge, node JourneyNode) *Guideline {
	edgeID := ""
	condition := "the journey step is reached"
	if edge != nil {
		edgeID = edge.ID
		if edge.Condition != "" {
			condition = edge.Condition
		}
	}
	return &Guideline{
		ID:      JourneyNodeGuidelineID(node.ID, edgeID),
		Content: GuidelineContent{Condition: condition, Action: node.Action},
		Enabled: true,
		Metadata: GuidelineMetadata{
			JourneyNode: &JourneyNodeRef{JourneyID: j.ID, NodeID: node.ID, EdgeID: edgeID},
		},
	}
}

// ProjectNodeGuidelines walks the journey graph breadth-first from the root
// and projects one synthetic guideline per reachable (edge, node) pair. The
// root node is projected without an edge. Cycles terminate through the
// visited set.
func (j *Journey) ProjectNodeGuidelines() []*Guideline {
	type pair struct{ edgeID, nodeID string }

	var out []*Guideline
	visited := map[pair]bool{}

	root, ok := j.Nodes[j.Root]
	if !ok {
		return nil
	}

	visited[pair{"", root.ID}] = true
	out = append(out, j.projectStep(nil, root))

	queue := []string{root.ID}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		for i := range j.Edges {
			edge := j.Edges[i]
			if edge.From != from {
				continue
			}
			to, ok := j.Nodes[edge.To]
			if !ok {
				continue
			}
			p := pair{edge.ID, to.ID}
			if visited[p] {
				continue
			}
			visited[p] = true
			out = append(out, j.projectStep(&edge, to))
			queue = append(queue, to.ID)
		}
	}
	return out
}

// JourneyStore retrieves journeys and ranks them for relevance to a query.
type JourneyStore interface {
	ReadJourney(ctx context.Context, id JourneyID) (*Journey, error)
	ListJourneys(ctx context.Context) ([]*Journey, error)

	// FindRelevantJourneys ranks the available journeys against the query and
	// returns at most maxN of them.
	FindRelevantJourneys(ctx context.Context, query string, available []JourneyID, maxN int) ([]*Journey, error)
}

// JourneyNodeToolAssociationStore enumerates tools attached to a journey
// node.
type JourneyNodeToolAssociationStore interface {
	FindNodeTools(ctx context.Context, nodeID string) ([]ToolID, error)
}
