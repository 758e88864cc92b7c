package match

import (
	"fmt"
	"strings"

	"github.com/parley-ai/parley/core"
)

// renderInteraction renders the trailing conversation history for prompts.
// Only message events are shown; tool and status events are summarized by
// kind so the model sees turn structure without internal payloads.
func renderInteraction(events []core.Event, maxEvents int) string {
	if maxEvents > 0 && len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	var sb strings.Builder
	for _, ev := range events {
		switch ev.Kind {
		case core.EventKindMessage:
			data, err := core.DecodeMessageEventData(ev)
			if err != nil {
				continue
			}
			role := "Customer"
			if ev.Source == core.EventSourceAIAgent || ev.Source == core.EventSourceHumanAgent {
				role = "Agent"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, data.Message)
		case core.EventKindTool:
			sb.WriteString("[tool results recorded]\n")
		}
	}
	if sb.Len() == 0 {
		return "No interaction so far.\n"
	}
	return sb.String()
}

func renderGuidelines(guidelines []*core.Guideline) string {
	var sb strings.Builder
	for _, g := range guidelines {
		fmt.Fprintf(&sb, "- id: %s\n  condition: %s\n", g.ID, g.Content.Condition)
		if g.Content.Action != "" {
			fmt.Fprintf(&sb, "  action: %s\n", g.Content.Action)
		}
	}
	return sb.String()
}

func renderTerms(terms []core.Term) string {
	if len(terms) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Glossary:\n")
	for _, t := range terms {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

func renderVariables(vars []core.ContextVariable) string {
	if len(vars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Context variables:\n")
	for _, v := range vars {
		fmt.Fprintf(&sb, "- %s: %s\n", v.Name, v.Value)
	}
	return sb.String()
}

func renderStagedCalls(calls []core.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Tool calls already executed this turn:\n")
	for _, c := range calls {
		fmt.Fprintf(&sb, "- %s(%v)", c.ToolID, c.Arguments)
		if c.Result.Error != "" {
			fmt.Fprintf(&sb, " -> failed: %s", c.Result.Error)
		} else if len(c.Result.Data) > 0 {
			fmt.Fprintf(&sb, " -> %s", string(c.Result.Data))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// batchInstructions holds the per-bucket task framing.
var batchInstructions = map[batchKind]string{
	batchActionable: "Decide, for each rule below, whether its condition holds " +
		"for the customer's latest message in this conversation. A rule applies only " +
		"when the condition is clearly met right now, not when it might apply later.",
	batchObservational: "The rules below are observations with no action. Decide " +
		"for each whether its condition describes the current state of the conversation.",
	batchDisambiguation: "Each rule below disambiguates between several possible " +
		"customer intents. Decide whether the conversation is currently ambiguous in the " +
		"way the rule's condition describes.",
	batchPrevAppliedCustomerDependent: "The rules below were already applied earlier " +
		"in this conversation, but their actions depend on data in the customer's input. " +
		"Decide for each whether the customer's latest message provides new data that makes " +
		"the rule apply again.",
	batchPrevAppliedActionable: "The rules below were already applied earlier in this " +
		"conversation. Decide for each whether circumstances changed such that the rule " +
		"genuinely applies again; previously satisfied rules normally do not re-apply.",
	batchJourneyStep: "The entries below are candidate steps of an ongoing multi-turn " +
		"process. Based on the conversation, decide which step transition (at most one per " +
		"process) the conversation has reached. Mark a step as applying only when its " +
		"transition condition is satisfied by the latest customer input.",
}

func buildBatchPrompt(
	kind batchKind,
	mc Context,
	guidelines []*core.Guideline,
	journeys []*core.Journey,
) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s\n\n", mc.Agent.Name, mc.Agent.Description)
	sb.WriteString("Conversation so far:\n")
	sb.WriteString(renderInteraction(mc.Interaction, 0))
	sb.WriteString("\n")
	if s := renderTerms(mc.Terms); s != "" {
		sb.WriteString(s + "\n")
	}
	if s := renderVariables(mc.Variables); s != "" {
		sb.WriteString(s + "\n")
	}
	if s := renderStagedCalls(mc.StagedCalls); s != "" {
		sb.WriteString(s + "\n")
	}
	if kind == batchJourneyStep && len(journeys) > 0 {
		sb.WriteString("Active processes:\n")
		for _, j := range journeys {
			fmt.Fprintf(&sb, "- %s: %s\n", j.Title, j.Description)
			if nodeID := core.CurrentPathNode(mc.JourneyPaths[j.ID]); nodeID != "" {
				if node, ok := j.Nodes[nodeID]; ok {
					fmt.Fprintf(&sb, "  current step: %s\n", node.Action)
				}
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(batchInstructions[kind])
	sb.WriteString("\n\nRules to evaluate:\n")
	sb.WriteString(renderGuidelines(guidelines))
	sb.WriteString("\nReturn one decision per rule, in the same order as listed, " +
		"with the rule's id, whether it applies, a confidence score between 0 and 1, " +
		"and a one-sentence rationale.")
	return sb.String()
}
