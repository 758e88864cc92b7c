package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateFields(t *testing.T) {
	fields := TemplateFields("Hi {{ std.customer.name }}, we have {{availability}} ({{ availability }}).")
	assert.Equal(t, []string{"std.customer.name", "availability"}, fields)

	assert.Empty(t, TemplateFields("no fields here"))
}

func TestRenderTemplate(t *testing.T) {
	text, ok := RenderTemplate("Hi {{name}}, balance: {{ balance }}.", map[string]string{
		"name":    "Dana",
		"balance": "$30",
	})
	require.True(t, ok)
	assert.Equal(t, "Hi Dana, balance: $30.", text)

	_, ok = RenderTemplate("Hi {{name}}", map[string]string{})
	assert.False(t, ok)

	text, ok = RenderTemplate("plain text", nil)
	require.True(t, ok)
	assert.Equal(t, "plain text", text)
}

func TestSchemaOf(t *testing.T) {
	type inner struct {
		Applies   bool    `json:"applies"`
		Score     float64 `json:"score" description:"confidence"`
		Rationale string  `json:"rationale,omitempty"`
	}
	type outer struct {
		Decisions []inner `json:"decisions"`
		Kind      string  `json:"kind" enum:"a,b,c"`
		Count     int     `json:"count"`
	}

	schema := SchemaOf(outer{})
	assert.Equal(t, "object", schema["type"])

	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "decisions")
	require.Contains(t, props, "kind")
	require.Contains(t, props, "count")

	decisions := props["decisions"].(map[string]any)
	assert.Equal(t, "array", decisions["type"])
	items := decisions["items"].(map[string]any)
	innerProps := items["properties"].(map[string]any)
	assert.Equal(t, "boolean", innerProps["applies"].(map[string]any)["type"])
	assert.Equal(t, "confidence", innerProps["score"].(map[string]any)["description"])

	// omitempty fields are not required.
	innerRequired := items["required"].([]string)
	assert.NotContains(t, innerRequired, "rationale")
	assert.Contains(t, innerRequired, "applies")

	kind := props["kind"].(map[string]any)
	assert.Equal(t, []any{"a", "b", "c"}, kind["enum"])
	assert.Equal(t, "integer", props["count"].(map[string]any)["type"])
}

func TestSchemaOfNonStruct(t *testing.T) {
	schema := SchemaOf(42)
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}
