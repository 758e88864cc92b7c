package generation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Applies   bool   `json:"applies"`
	Rationale string `json:"rationale"`
}

func TestGenerateDecodesTypedResult(t *testing.T) {
	gen := NewMockGenerator().Respond("evaluate", map[string]any{
		"applies":   true,
		"rationale": "clearly applies",
	})

	v, usage, err := Generate[verdict](context.Background(), gen, "please evaluate this", Hints{Temperature: 0.2})
	require.NoError(t, err)
	assert.True(t, v.Applies)
	assert.Equal(t, "clearly applies", v.Rationale)
	assert.Greater(t, usage.Total(), 0)
}

func TestGenerateSurfacesSchemaMismatch(t *testing.T) {
	gen := NewMockGenerator().Respond("evaluate", map[string]any{
		"applies": "not-a-bool",
	})

	_, _, err := Generate[verdict](context.Background(), gen, "please evaluate this", Hints{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestMockGeneratorUnhandledPromptFails(t *testing.T) {
	gen := NewMockGenerator()
	_, err := gen.Generate(context.Background(), "mystery prompt", nil, Hints{})
	require.Error(t, err)
}

func TestMockGeneratorHandlerErrorPropagates(t *testing.T) {
	gen := NewMockGenerator().Handle("flaky", func(string, Hints) (any, error) {
		return nil, fmt.Errorf("transient")
	})
	_, err := gen.Generate(context.Background(), "flaky call", nil, Hints{})
	assert.EqualError(t, err, "transient")
	assert.Equal(t, 1, gen.CallCount())
}

func TestMockGeneratorRespectsCancelledContext(t *testing.T) {
	gen := NewMockGenerator().Respond("x", map[string]any{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gen.Generate(ctx, "x", nil, Hints{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUsageArithmetic(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 50}.Add(Usage{InputTokens: 10, OutputTokens: 5})
	assert.Equal(t, 110, u.InputTokens)
	assert.Equal(t, 55, u.OutputTokens)
	assert.Equal(t, 165, u.Total())
}
