package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/internal/util"
	"github.com/parley-ai/parley/logging"
)

// CannedResponseGenerator composes replies from pre-authored templates. The
// pipeline is draft, candidate retrieval, field resolution and rendering,
// selection, and (in composited mode) revision.
type CannedResponseGenerator struct {
	mode          core.CompositionMode
	fluid         *FluidGenerator
	store         core.CannedResponseStore
	generator     generation.SchematicGenerator
	policy        Policy
	logger        logging.Logger
	sleep         Sleeper
	noMatch       *NoMatchResponseProvider
	maxCandidates int
}

// selectionResult is the schematic output of the selection stage.
type selectionResult struct {
	Choice       string `json:"choice" description:"the chosen candidate, copied verbatim"`
	MatchQuality string `json:"match_quality" enum:"high,partial,none" description:"how well the choice covers the draft"`
	Rationale    string `json:"rationale"`
}

// revisionResult is the schematic output of the revision stage.
type revisionResult struct {
	Message string `json:"message" description:"the draft rewritten in the style of the template"`
}

// fieldExtraction is the schematic output of generative field resolution.
type fieldExtraction struct {
	Available bool   `json:"available" description:"whether a value can be derived from the draft and conversation"`
	Value     string `json:"value,omitempty"`
}

// GenerateMessages implements Composer.
func (g *CannedResponseGenerator) GenerateMessages(
	ctx context.Context,
	req Request,
	em emit.Emitter,
	onChunk ChunkHook,
) (Output, error) {
	draft, usage, err := g.fluid.draft(ctx, req)
	if err != nil {
		return Output{Usage: usage}, err
	}

	rendered, renderUsage, err := g.renderCandidates(ctx, req, draft.Message)
	usage = usage.Add(renderUsage)
	if err != nil {
		return Output{Usage: usage}, err
	}

	if len(rendered) == 0 {
		return g.fallback(ctx, req, em, onChunk, draft.Message, nil, usage)
	}

	selection, selUsage, err := g.selectCandidate(ctx, draft.Message, rendered)
	usage = usage.Add(selUsage)
	if err != nil {
		if core.IsCancelled(err) {
			return Output{Usage: usage}, err
		}
		g.logger.Warn("canned selection failed, falling back: %v", err)
		return g.fallback(ctx, req, em, onChunk, draft.Message, rendered, usage)
	}

	verbatim := false
	for _, c := range rendered {
		if c == selection.Choice {
			verbatim = true
			break
		}
	}

	switch g.mode {
	case core.CompositionModeCannedStrict:
		// Strict replies are template text or the no-match fallback, never
		// model prose.
		message := selection.Choice
		if selection.MatchQuality != "high" || !verbatim {
			message = g.noMatch.Template
		}
		return emitChunks(ctx, req, em, onChunk, g.sleep, message, draft.Message, rendered, nil, usage)

	case core.CompositionModeCannedComposited:
		if !verbatim {
			return g.fallback(ctx, req, em, onChunk, draft.Message, rendered, usage)
		}
		revision, revUsage, err := g.revise(ctx, draft.Message, selection.Choice)
		usage = usage.Add(revUsage)
		revised := revision.Message
		if err != nil {
			if core.IsCancelled(err) {
				return Output{Usage: usage}, err
			}
			g.logger.Warn("revision failed, using selection: %v", err)
			revised = selection.Choice
		}
		return emitChunks(ctx, req, em, onChunk, g.sleep, revised, draft.Message, rendered, nil, usage)

	default: // canned_fluid
		if selection.MatchQuality == "high" && verbatim {
			return emitChunks(ctx, req, em, onChunk, g.sleep, selection.Choice, draft.Message, rendered, nil, usage)
		}
		return g.fallback(ctx, req, em, onChunk, draft.Message, rendered, usage)
	}
}

// fallback emits the fluid draft (or, in strict mode, the no-match
// template).
func (g *CannedResponseGenerator) fallback(
	ctx context.Context,
	req Request,
	em emit.Emitter,
	onChunk ChunkHook,
	draft string,
	rendered []string,
	usage generation.Usage,
) (Output, error) {
	message := draft
	if g.mode == core.CompositionModeCannedStrict {
		message = g.noMatch.Template
	}
	return emitChunks(ctx, req, em, onChunk, g.sleep, message, draft, rendered, nil, usage)
}

// renderCandidates retrieves templates for the current context, ranks them
// against the draft, resolves every referenced field and renders the
// survivors. Templates whose fields cannot all be resolved are discarded.
func (g *CannedResponseGenerator) renderCandidates(
	ctx context.Context,
	req Request,
	draft string,
) ([]string, generation.Usage, error) {
	var usage generation.Usage

	candidates, err := g.store.FindForContext(ctx, req.Agent.ID, req.ActiveJourneys, req.MatchedGuidelines)
	if err != nil {
		return nil, usage, fmt.Errorf("find canned responses: %w", err)
	}

	// Tool results may carry their own fallback response texts; they join
	// the candidate pool as field-free templates.
	for _, call := range req.ToolCalls {
		for _, text := range call.Result.CannedResponses {
			candidates = append(candidates, &core.CannedResponse{Template: text})
		}
	}

	ranked := rankBySignalOverlap(candidates, draft)
	if g.maxCandidates > 0 && len(ranked) > g.maxCandidates {
		ranked = ranked[:g.maxCandidates]
	}

	var rendered []string
	for _, c := range ranked {
		if c.HasTag(core.TagPreamble) {
			continue
		}
		fields, fieldUsage, ok := g.resolveFields(ctx, req, draft, c)
		usage = usage.Add(fieldUsage)
		if !ok {
			continue
		}
		if text, ok := util.RenderTemplate(c.Template, fields); ok {
			rendered = append(rendered, text)
		}
	}
	return rendered, usage, nil
}

// resolveFields resolves every field a template references, trying standard
// values, tool-provided values, then generative extraction, in that order.
func (g *CannedResponseGenerator) resolveFields(
	ctx context.Context,
	req Request,
	draft string,
	c *core.CannedResponse,
) (map[string]string, generation.Usage, bool) {
	var usage generation.Usage
	fields := map[string]string{}

	for _, field := range util.TemplateFields(c.Template) {
		if v, ok := standardField(req, field); ok {
			fields[field] = v
			continue
		}
		if v, ok := toolField(req, field); ok {
			fields[field] = v
			continue
		}
		extraction, u, err := g.extractField(ctx, req, draft, field)
		usage = usage.Add(u)
		if err != nil || !extraction.Available || extraction.Value == "" {
			return nil, usage, false
		}
		fields[field] = extraction.Value
	}
	return fields, usage, true
}

// standardField resolves the std.* field namespace.
func standardField(req Request, field string) (string, bool) {
	switch field {
	case "std.customer.name":
		return req.Customer.Name, true
	case "std.agent.name":
		return req.Agent.Name, true
	case "std.missing_params":
		if len(req.MissingParams) == 0 {
			return "", false
		}
		names := make([]string, len(req.MissingParams))
		for i, p := range req.MissingParams {
			name := p.Description
			if name == "" {
				name = strings.ReplaceAll(p.Parameter, "_", " ")
			}
			names[i] = name
		}
		return strings.Join(names, ", "), true
	}
	if name, ok := strings.CutPrefix(field, "std.variables."); ok {
		for _, v := range req.Variables {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return "", false
}

// toolField resolves a field from the canned_response_fields of any tool
// call executed this cycle.
func toolField(req Request, field string) (string, bool) {
	for _, call := range req.ToolCalls {
		if v, ok := call.Result.CannedResponseFields[field]; ok {
			return v, true
		}
	}
	return "", false
}

func (g *CannedResponseGenerator) extractField(
	ctx context.Context,
	req Request,
	draft string,
	field string,
) (fieldExtraction, generation.Usage, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A reply template needs a value for the field %q.\n\n", field)
	fmt.Fprintf(&sb, "Draft reply:\n%s\n\n", draft)
	sb.WriteString("Recent conversation:\n")
	for _, ev := range req.Interaction {
		if ev.Kind != core.EventKindMessage {
			continue
		}
		data, err := core.DecodeMessageEventData(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", ev.Source, data.Message)
	}
	sb.WriteString("\nExtract the field's value strictly from the draft and conversation " +
		"above. Report it as unavailable rather than inventing one.")
	return generationCall[fieldExtraction](ctx, g.generator, sb.String(), 0.1)
}

// selectCandidate asks the model to pick the rendered candidate closest to
// the draft.
func (g *CannedResponseGenerator) selectCandidate(
	ctx context.Context,
	draft string,
	rendered []string,
) (selectionResult, generation.Usage, error) {
	var sb strings.Builder
	sb.WriteString("Pick the candidate reply that best conveys the draft below. " +
		"Copy your choice verbatim; do not edit it.\n\n")
	fmt.Fprintf(&sb, "Draft:\n%s\n\nCandidates:\n", draft)
	for i, c := range rendered {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("\nReport match_quality as high only when the choice fully conveys " +
		"the draft's substance, partial when it covers it incompletely, none when no " +
		"candidate fits.")
	return generationCall[selectionResult](ctx, g.generator, sb.String(), 0.1)
}

// revise rewrites the draft in the style of the selected template while
// preserving factual content.
func (g *CannedResponseGenerator) revise(
	ctx context.Context,
	draft string,
	template string,
) (revisionResult, generation.Usage, error) {
	var sb strings.Builder
	sb.WriteString("Rewrite the draft reply in the voice and structure of the style " +
		"example. Keep every fact from the draft; take only tone and phrasing from " +
		"the example.\n\n")
	fmt.Fprintf(&sb, "Draft:\n%s\n\nStyle example:\n%s\n", draft, template)
	return generationCall[revisionResult](ctx, g.generator, sb.String(), 0.2)
}

func generationCall[T any](
	ctx context.Context,
	g generation.SchematicGenerator,
	prompt string,
	temperature float64,
) (T, generation.Usage, error) {
	return generation.Generate[T](ctx, g, prompt, generation.Hints{Temperature: temperature})
}

// rankBySignalOverlap orders candidates by token overlap of their template
// and signals against the draft, best first. It is a stand-in for the
// vector-store ranking an external retrieval collaborator would provide.
func rankBySignalOverlap(candidates []*core.CannedResponse, draft string) []*core.CannedResponse {
	draftTokens := tokenSet(draft)
	type scored struct {
		c     *core.CannedResponse
		score int
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		text := c.Template + " " + strings.Join(c.Signals, " ")
		ranked[i] = scored{c: c, score: tokenOverlap(draftTokens, tokenSet(text))}
	}
	sort.SliceStable(ranked, func(i, k int) bool { return ranked[i].score > ranked[k].score })
	out := make([]*core.CannedResponse, len(ranked))
	for i, r := range ranked {
		out[i] = r.c
	}
	return out
}

func tokenSet(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		tokens[strings.Trim(f, ".,!?;:'\"()")] = true
	}
	return tokens
}

func tokenOverlap(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if t != "" && b[t] {
			n++
		}
	}
	return n
}
