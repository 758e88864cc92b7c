// Package generation defines the schematic LLM generator contract: a prompt
// and a JSON schema go in, validated typed JSON comes out. Provider adapters
// live in the anthropic and openai subpackages; MockGenerator supports tests
// and examples.
package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/internal/util"
)

// Hints tune an individual generation call.
type Hints struct {
	Temperature float64
}

// Usage captures token accounting for a generation call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add accumulates another call's usage.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Result is the raw outcome of a schematic generation call.
type Result struct {
	Raw   json.RawMessage
	Usage Usage
}

// SchematicGenerator invokes an LLM with a prompt and a JSON schema for the
// expected output. Implementations must return JSON conforming to the schema
// or an error; they never return free text.
type SchematicGenerator interface {
	Generate(ctx context.Context, prompt string, schema map[string]any, hints Hints) (Result, error)
}

// Generate calls g with the schema derived from T by reflection and decodes
// the response into T. A response that fails to decode is surfaced as an
// error so callers can retry with different hints.
func Generate[T any](ctx context.Context, g SchematicGenerator, prompt string, hints Hints) (T, Usage, error) {
	var out T
	res, err := g.Generate(ctx, prompt, util.SchemaOf(out), hints)
	if err != nil {
		return out, res.Usage, err
	}
	if err := json.Unmarshal(res.Raw, &out); err != nil {
		return out, res.Usage, fmt.Errorf("schematic response does not match schema: %w", err)
	}
	return out, res.Usage, nil
}
