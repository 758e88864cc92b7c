package toolcall

import "github.com/parley-ai/parley/core"

// ProblematicParameter records a tool argument the engine needed but could
// not obtain this turn.
type ProblematicParameter struct {
	ToolID      core.ToolID `json:"tool_id"`
	Parameter   string      `json:"parameter"`
	Description string      `json:"description,omitempty"`
	// Precedence is the priority of the guideline that wanted the tool,
	// taken from its match score. Higher wins when the composer decides what
	// to ask for first.
	Precedence float64 `json:"precedence"`
}

// Insights lists parameters the tool caller found missing or invalid.
type Insights struct {
	MissingData []ProblematicParameter `json:"missing_data,omitempty"`
	InvalidData []ProblematicParameter `json:"invalid_data,omitempty"`
}

// IsEmpty reports whether no problematic parameters were recorded.
func (i Insights) IsEmpty() bool {
	return len(i.MissingData) == 0 && len(i.InvalidData) == 0
}

// Merge combines two insight sets.
func (i Insights) Merge(other Insights) Insights {
	return Insights{
		MissingData: append(append([]ProblematicParameter(nil), i.MissingData...), other.MissingData...),
		InvalidData: append(append([]ProblematicParameter(nil), i.InvalidData...), other.InvalidData...),
	}
}

// Filter applies the precedence rule: for a parameter name reported both
// missing and invalid on the same tool, only the missing entry survives;
// duplicates by (tool, parameter) collapse keeping the highest precedence.
func (i Insights) Filter() Insights {
	type key struct {
		tool  core.ToolID
		param string
	}

	missing := map[key]ProblematicParameter{}
	for _, p := range i.MissingData {
		k := key{p.ToolID, p.Parameter}
		if prev, ok := missing[k]; !ok || p.Precedence > prev.Precedence {
			missing[k] = p
		}
	}
	invalid := map[key]ProblematicParameter{}
	for _, p := range i.InvalidData {
		k := key{p.ToolID, p.Parameter}
		if _, shadowed := missing[k]; shadowed {
			continue
		}
		if prev, ok := invalid[k]; !ok || p.Precedence > prev.Precedence {
			invalid[k] = p
		}
	}

	var out Insights
	for _, p := range i.MissingData {
		k := key{p.ToolID, p.Parameter}
		if kept, ok := missing[k]; ok && kept == p {
			out.MissingData = append(out.MissingData, p)
			delete(missing, k)
		}
	}
	for _, p := range i.InvalidData {
		k := key{p.ToolID, p.Parameter}
		if kept, ok := invalid[k]; ok && kept == p {
			out.InvalidData = append(out.InvalidData, p)
			delete(invalid, k)
		}
	}
	return out
}
