// Package openai adapts the OpenAI Chat Completions API to the
// generation.SchematicGenerator contract using structured outputs
// (json_schema response format).
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/parley-ai/parley/generation"
)

// Options configure the OpenAI generator.
type Options struct {
	Model               string
	MaxCompletionTokens int64
}

// Generator wraps the OpenAI Chat Completions API behind
// generation.SchematicGenerator.
type Generator struct {
	client *openai.Client
	opts   Options
}

// NewGenerator creates a generator using the official client.
func NewGenerator(optFns ...func(o *Options)) *Generator {
	client := openai.NewClient()
	return NewGeneratorFromClient(&client, optFns...)
}

// NewGeneratorFromClient creates a generator from an existing client.
func NewGeneratorFromClient(client *openai.Client, optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
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
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(g.opts.Model),
		Temperature:         openai.Float(hints.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "schematic_output",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return generation.Result{}, fmt.Errorf("openai api error: %w", err)
	}

	usage := generation.Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}

	if len(completion.Choices) == 0 {
		return generation.Result{Usage: usage}, fmt.Errorf("openai response contained no choices")
	}
	content := completion.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return generation.Result{Usage: usage}, fmt.Errorf("openai response is not valid JSON")
	}
	return generation.Result{Raw: json.RawMessage(content), Usage: usage}, nil
}
