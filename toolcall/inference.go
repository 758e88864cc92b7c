package toolcall

import (
	"fmt"
	"strings"

	"github.com/parley-ai/parley/core"
)

const (
	argumentValid   = "valid"
	argumentInvalid = "invalid"
	argumentMissing = "missing"
)

// argumentEvaluation is the model's verdict for one parameter of one
// intended invocation.
type argumentEvaluation struct {
	ParameterName string `json:"parameter_name"`
	State         string `json:"state" enum:"valid,invalid,missing" description:"whether a usable value is available"`
	Value         string `json:"value,omitempty" description:"the extracted value when state is valid"`
	IsOptional    bool   `json:"is_optional"`
}

// candidateToolCall is one distinct intended invocation of the candidate
// tool.
type candidateToolCall struct {
	ApplicabilityRationale  string               `json:"applicability_rationale"`
	IsApplicable            bool                 `json:"is_applicable"`
	SameCallIsAlreadyStaged bool                 `json:"same_call_is_already_staged" description:"true when an identical call already ran this turn"`
	ArgumentEvaluations     []argumentEvaluation `json:"argument_evaluations"`
}

// toolInference is the full per-tool inference result.
type toolInference struct {
	ToolCallsForCandidateTool []candidateToolCall `json:"tool_calls_for_candidate_tool"`
}

func buildInferencePrompt(tcCtx Context, cand candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s\n\n", tcCtx.Agent.Name, tcCtx.Agent.Description)

	sb.WriteString("Recent conversation:\n")
	for _, ev := range tcCtx.Interaction {
		if ev.Kind != core.EventKindMessage {
			continue
		}
		data, err := core.DecodeMessageEventData(ev)
		if err != nil {
			continue
		}
		role := "Customer"
		if ev.Source == core.EventSourceAIAgent || ev.Source == core.EventSourceHumanAgent {
			role = "Agent"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, data.Message)
	}

	sb.WriteString("\nRules currently in effect that requested this tool:\n")
	for _, m := range cand.matches {
		fmt.Fprintf(&sb, "- condition: %s\n", m.Guideline.Content.Condition)
		if m.Guideline.Content.Action != "" {
			fmt.Fprintf(&sb, "  action: %s\n", m.Guideline.Content.Action)
		}
	}

	def := cand.definition
	fmt.Fprintf(&sb, "\nCandidate tool: %s\n%s\nParameters:\n", def.ID, def.Description)
	for _, p := range def.Parameters {
		optional := "required"
		if !p.Required {
			optional = "optional"
		}
		fmt.Fprintf(&sb, "- %s (%s, %s): %s\n", p.Name, p.Type, optional, p.Description)
		if len(p.Sources) > 0 {
			fmt.Fprintf(&sb, "  acceptable sources: %s\n", strings.Join(p.Sources, ", "))
		}
	}

	if len(tcCtx.StagedCalls) > 0 {
		sb.WriteString("\nCalls already executed this turn:\n")
		for _, c := range tcCtx.StagedCalls {
			fmt.Fprintf(&sb, "- %s(%v)\n", c.ToolID, c.Arguments)
		}
	}

	sb.WriteString("\nDecide whether the candidate tool should be invoked now, and with " +
		"what arguments. Produce one entry per distinct intended invocation. For each " +
		"parameter report whether a usable value is available from the conversation " +
		"(valid), present but unusable (invalid), or absent (missing). Mark an " +
		"invocation as already staged when an identical call appears above. Do not " +
		"invent argument values.")
	return sb.String()
}
