// Package anthropic adapts the Anthropic Messages API to the
// generation.SchematicGenerator contract. The output schema is presented as
// a forced tool so the model must answer with conforming JSON.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/parley-ai/parley/generation"
)

const outputToolName = "produce_structured_output"

// Options configures the Anthropic generator (model id, max tokens, API key).
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Generator wraps the Anthropic Messages API behind
// generation.SchematicGenerator.
type Generator struct {
	client *anthropic.Client
	opts   Options
}

// NewGenerator creates a generator using the official client.
func NewGenerator(optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Generator{client: &client, opts: opts}
}

// NewGeneratorFromClient creates a generator from an existing client.
func NewGeneratorFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{client: client, opts: opts}
}

// Generate implements generation.SchematicGenerator.
func (g *Generator) Generate(
	ctx context.Context,
	prompt string,
	schema map[string]any,
	hints generation.Hints,
) (generation.Result, error) {
	inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if properties, ok := schema["properties"]; ok {
		inputSchema.Properties = properties
	}
	if required, ok := schema["required"].([]string); ok {
		inputSchema.Required = required
	}

	params := anthropic.MessageNewParams{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: anthropic.Float(hints.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(inputSchema, outputToolName),
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: outputToolName},
		},
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return generation.Result{}, fmt.Errorf("anthropic api error: %w", err)
	}

	usage := generation.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		toolBlock := block.AsToolUse()
		raw, err := json.Marshal(toolBlock.Input)
		if err != nil {
			return generation.Result{Usage: usage}, fmt.Errorf("anthropic tool input: %w", err)
		}
		return generation.Result{Raw: raw, Usage: usage}, nil
	}

	return generation.Result{Usage: usage}, fmt.Errorf("anthropic response contained no structured output")
}
