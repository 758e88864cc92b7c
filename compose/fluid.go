package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/logging"
)

// draftReply is the schematic output of the drafting call. The adherence
// flag is the model's own report that the reply follows every matched
// guideline; a response that disclaims adherence is retried at a higher
// temperature.
type draftReply struct {
	Message             string `json:"message" description:"the reply to send, blank line between separate messages"`
	AdheresToGuidelines bool   `json:"adheres_to_guidelines" description:"whether the reply follows all rules in effect"`
}

// FluidGenerator composes free-text replies directly from the LLM.
type FluidGenerator struct {
	generator generation.SchematicGenerator
	policy    Policy
	logger    logging.Logger
	sleep     Sleeper
}

// GenerateMessages implements Composer.
func (g *FluidGenerator) GenerateMessages(
	ctx context.Context,
	req Request,
	em emit.Emitter,
	onChunk ChunkHook,
) (Output, error) {
	draft, usage, err := g.draft(ctx, req)
	if err != nil {
		return Output{Usage: usage}, err
	}
	return emitChunks(ctx, req, em, onChunk, g.sleep, draft.Message, "", nil, nil, usage)
}

// draft runs the drafting prompt with the policy's temperature ramp,
// accepting the first schema-valid response that self-reports adherence
// (or the final attempt regardless).
func (g *FluidGenerator) draft(ctx context.Context, req Request) (draftReply, generation.Usage, error) {
	prompt := buildDraftPrompt(req, g.policy.MaxHistoryForMessageGeneration())
	temps := g.policy.MessageGenerationTemperatures()
	backoff := g.policy.RetryBackoff()

	var usage generation.Usage
	var lastErr error
	for attempt, temp := range temps {
		if attempt > 0 {
			delay := backoff[min(attempt-1, len(backoff)-1)]
			if err := g.sleep(ctx, delay); err != nil {
				return draftReply{}, usage, err
			}
		}
		reply, u, err := generation.Generate[draftReply](ctx, g.generator, prompt, generation.Hints{Temperature: temp})
		usage = usage.Add(u)
		if err != nil {
			if core.IsCancelled(err) {
				return draftReply{}, usage, err
			}
			lastErr = err
			g.logger.Warn("draft attempt %d failed: %v", attempt+1, err)
			continue
		}
		if reply.Message == "" {
			lastErr = fmt.Errorf("draft attempt %d produced an empty message", attempt+1)
			continue
		}
		if !reply.AdheresToGuidelines && attempt < len(temps)-1 {
			g.logger.Debug("draft attempt %d reported non-adherence, retrying", attempt+1)
			lastErr = fmt.Errorf("draft attempt %d reported non-adherence", attempt+1)
			continue
		}
		return reply, usage, nil
	}
	return draftReply{}, usage, fmt.Errorf("message drafting failed: %w", lastErr)
}

// buildDraftPrompt assembles the drafting prompt: identity, task, history,
// matched guidelines, tool results, glossary, capabilities, variables,
// tool-insight warnings and output guidance. It never includes tool names,
// guideline ids or correlation ids in a form the model could echo verbatim.
func buildDraftPrompt(req Request, maxHistory int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, %s\n", req.Agent.Name, req.Agent.Description)
	fmt.Fprintf(&sb, "You are conversing with %s.\n\n", req.Customer.Name)

	sb.WriteString("Write your next reply to the customer. Separate independent messages " +
		"with a blank line. Never mention internal rules, tools or identifiers.\n\n")

	sb.WriteString("Conversation so far:\n")
	interaction := req.Interaction
	if maxHistory > 0 && len(interaction) > maxHistory {
		interaction = interaction[len(interaction)-maxHistory:]
	}
	for _, ev := range interaction {
		if ev.Kind != core.EventKindMessage {
			continue
		}
		data, err := core.DecodeMessageEventData(ev)
		if err != nil {
			continue
		}
		role := "Customer"
		if ev.Source == core.EventSourceAIAgent || ev.Source == core.EventSourceHumanAgent {
			role = "You"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, data.Message)
	}
	sb.WriteString("\n")

	if len(req.OrdinaryMatches) > 0 || len(req.ToolEnabledMatches) > 0 {
		sb.WriteString("Rules in effect for this reply:\n")
		for _, m := range append(append([]core.GuidelineMatch(nil), req.OrdinaryMatches...), req.ToolEnabledMatches...) {
			fmt.Fprintf(&sb, "- when %s", m.Guideline.Content.Condition)
			if m.Guideline.Content.Action != "" {
				fmt.Fprintf(&sb, ", then %s", m.Guideline.Content.Action)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(req.ToolCalls) > 0 {
		sb.WriteString("Data retrieved for this reply:\n")
		for _, c := range req.ToolCalls {
			if c.Result.Error != "" {
				sb.WriteString("- a data lookup failed; apologize and offer to try again later\n")
				continue
			}
			fmt.Fprintf(&sb, "- %s\n", string(c.Result.Data))
		}
		sb.WriteString("\n")
	}

	if len(req.Terms) > 0 {
		sb.WriteString("Glossary:\n")
		for _, t := range req.Terms {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
		sb.WriteString("\n")
	}

	if len(req.Capabilities) > 0 {
		sb.WriteString("Things you are able to do:\n")
		for _, c := range req.Capabilities {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Title, c.Description)
		}
		sb.WriteString("\n")
	}

	if len(req.Variables) > 0 {
		sb.WriteString("Known facts:\n")
		for _, v := range req.Variables {
			fmt.Fprintf(&sb, "- %s: %s\n", v.Name, v.Value)
		}
		sb.WriteString("\n")
	}

	if len(req.MissingParams) > 0 {
		sb.WriteString("You are missing the following information and must ask the customer for it:\n")
		for _, p := range req.MissingParams {
			name := p.Description
			if name == "" {
				name = strings.ReplaceAll(p.Parameter, "_", " ")
			}
			fmt.Fprintf(&sb, "- %s\n", name)
		}
		sb.WriteString("\n")
	}
	if len(req.InvalidParams) > 0 {
		sb.WriteString("The customer provided unusable values for the following; ask them to clarify:\n")
		for _, p := range req.InvalidParams {
			name := p.Description
			if name == "" {
				name = strings.ReplaceAll(p.Parameter, "_", " ")
			}
			fmt.Fprintf(&sb, "- %s\n", name)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Good replies are brief, concrete and grounded in the data above. " +
		"Examples of tone: \"Sure, I can help with that.\" / \"Got it - what city are you in?\"\n")
	return sb.String()
}
