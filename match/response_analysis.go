package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/generation"
	"golang.org/x/sync/errgroup"
)

// AnalysisResult reports which matched guidelines the emitted reply
// fulfilled, and therefore count as applied going forward.
type AnalysisResult struct {
	AppliedGuidelineIDs []core.GuidelineID
	Usage               generation.Usage
}

// responseAnalysisDecision is the LLM verdict for one guideline. When the
// reply only partially fulfils the action, MissingPart classifies what is
// missing: "functional" gaps keep the guideline unapplied, "behavioral"
// gaps (tone, politeness) still count as applied.
type responseAnalysisDecision struct {
	GuidelineID string `json:"guideline_id"`
	Fulfilled   bool   `json:"fulfilled" description:"whether the reply carried out the guideline's action"`
	MissingPart string `json:"missing_part,omitempty" enum:"functional,behavioral" description:"set only when not fully fulfilled"`
	Rationale   string `json:"rationale"`
}

type responseAnalysisDecisions struct {
	Decisions []responseAnalysisDecision `json:"decisions"`
}

// AnalyzeResponse evaluates, after the reply was emitted, which matched
// guidelines were actually carried out. Only actionable, non-continuous,
// not-yet-applied guidelines are candidates; everything else keeps its
// existing status. Candidates are evaluated in parallel batches with the
// same retry schedule as matching.
func (m *Matcher) AnalyzeResponse(
	ctx context.Context,
	mc Context,
	matches []core.GuidelineMatch,
	reply string,
) (AnalysisResult, error) {
	var candidates []*core.Guideline
	for _, match := range matches {
		g := match.Guideline
		if g.Metadata.Continuous || g.IsObservational() || mc.State.Applied(g.ID) {
			continue
		}
		candidates = append(candidates, g)
	}
	if len(candidates) == 0 {
		return AnalysisResult{}, nil
	}

	size := m.policy.GuidelineMatchingBatchSize(len(candidates))
	groups := chunk(candidates, size)
	results := make([]AnalysisResult, len(groups))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, group := range groups {
		eg.Go(func() error {
			res, err := m.analyzeGroup(egCtx, mc, group, reply)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return AnalysisResult{}, err
	}

	var out AnalysisResult
	for _, r := range results {
		out.AppliedGuidelineIDs = append(out.AppliedGuidelineIDs, r.AppliedGuidelineIDs...)
		out.Usage = out.Usage.Add(r.Usage)
	}
	return out, nil
}

func (m *Matcher) analyzeGroup(
	ctx context.Context,
	mc Context,
	guidelines []*core.Guideline,
	reply string,
) (AnalysisResult, error) {
	prompt := buildAnalysisPrompt(mc, guidelines, reply)
	temps := m.policy.ResponseAnalysisTemperatures()
	backoff := m.policy.RetryBackoff()

	var decisions responseAnalysisDecisions
	var usage generation.Usage
	var lastErr error
	for attempt, temp := range temps {
		if attempt > 0 {
			delay := backoff[min(attempt-1, len(backoff)-1)]
			select {
			case <-ctx.Done():
				return AnalysisResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		var u generation.Usage
		decisions, u, lastErr = generation.Generate[responseAnalysisDecisions](ctx, m.generator, prompt, generation.Hints{Temperature: temp})
		usage = usage.Add(u)
		if lastErr == nil {
			break
		}
		if core.IsCancelled(lastErr) {
			return AnalysisResult{}, lastErr
		}
		m.logger.Warn("response analysis attempt %d failed: %v", attempt+1, lastErr)
	}
	if lastErr != nil {
		return AnalysisResult{}, lastErr
	}

	byID := make(map[string]responseAnalysisDecision, len(decisions.Decisions))
	for _, d := range decisions.Decisions {
		byID[d.GuidelineID] = d
	}
	var out AnalysisResult
	out.Usage = usage
	for _, g := range guidelines {
		d, ok := byID[string(g.ID)]
		if !ok {
			continue
		}
		if d.Fulfilled || d.MissingPart == "behavioral" {
			out.AppliedGuidelineIDs = append(out.AppliedGuidelineIDs, g.ID)
		}
	}
	return out, nil
}

func buildAnalysisPrompt(mc Context, guidelines []*core.Guideline, reply string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are reviewing a reply just sent by %s.\n\n", mc.Agent.Name)
	sb.WriteString("Conversation before the reply:\n")
	sb.WriteString(renderInteraction(mc.Interaction, 0))
	fmt.Fprintf(&sb, "\nThe reply that was sent:\n%s\n\n", reply)
	sb.WriteString("For each rule below, decide whether the reply carried out the rule's " +
		"action. If the reply only partially did, classify the missing part: 'functional' " +
		"when something core to the task is missing, 'behavioral' when only tone or " +
		"politeness is missing.\n\nRules:\n")
	sb.WriteString(renderGuidelines(guidelines))
	sb.WriteString("\nReturn one decision per rule in the same order as listed.")
	return sb.String()
}
