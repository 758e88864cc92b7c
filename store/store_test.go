package store

import (
	"context"
	"testing"

	"github.com/parley-ai/parley/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuidelineTagScoping(t *testing.T) {
	reg := NewInMemory()
	reg.AddGuideline(&core.Guideline{ID: "g1", Enabled: true, Tags: []core.TagID{"sales"}})
	reg.AddGuideline(&core.Guideline{ID: "g2", Enabled: true, Tags: []core.TagID{"support"}})
	reg.AddGuideline(&core.Guideline{ID: "g3", Enabled: true})

	all, err := reg.ListGuidelines(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sales, err := reg.ListGuidelines(context.Background(), []core.TagID{"sales"})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, core.GuidelineID("g1"), sales[0].ID)
}

func TestFindRelevantJourneysRanksByOverlap(t *testing.T) {
	reg := NewInMemory()
	reg.AddJourney(&core.Journey{ID: "flights", Title: "Book a flight", Description: "flight booking process"})
	reg.AddJourney(&core.Journey{ID: "refunds", Title: "Refund an order", Description: "refund handling"})

	out, err := reg.FindRelevantJourneys(context.Background(),
		"I want to book a flight to Bangkok",
		[]core.JourneyID{"flights", "refunds"}, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, core.JourneyID("flights"), out[0].ID)
}

func TestFindRelevantTermsFiltersZeroOverlap(t *testing.T) {
	reg := NewInMemory()
	reg.AddTerm(core.Term{ID: "1", Name: "SKU", Description: "stock keeping unit", Synonyms: []string{"product code"}})
	reg.AddTerm(core.Term{ID: "2", Name: "ETA", Description: "estimated arrival"})

	terms, err := reg.FindRelevantTerms(context.Background(), "what is the sku of this laptop", 5)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "SKU", terms[0].Name)
}

func TestUnknownCustomerResolvesToGuest(t *testing.T) {
	reg := NewInMemory()
	c, err := reg.ReadCustomer(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "Guest", c.Name)
	assert.Equal(t, core.CustomerID("nobody"), c.ID)
}

func TestAssociations(t *testing.T) {
	reg := NewInMemory()
	toolID := core.ToolID{ServiceName: "svc", ToolName: "t"}
	reg.AssociateGuidelineTool("g1", toolID)
	reg.AssociateNodeTool("n1", toolID)

	assocs, err := reg.FindAllAssociations(context.Background())
	require.NoError(t, err)
	require.Len(t, assocs, 1)
	assert.Equal(t, core.GuidelineID("g1"), assocs[0].GuidelineID)

	nodeTools, err := reg.FindNodeTools(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, nodeTools, 1)

	empty, err := reg.FindNodeTools(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestToolRegistryResolveAndExecute(t *testing.T) {
	tools := NewToolRegistry(nil)
	def := &core.ToolDefinition{
		ID:         core.ToolID{ServiceName: "svc", ToolName: "echo"},
		Parameters: []core.ToolParameter{{Name: "text", Type: "string", Required: true}},
	}
	tools.Register(def, func(_ context.Context, args map[string]string) (core.ToolResult, error) {
		return core.ToolResult{CannedResponseFields: map[string]string{"echo": args["text"]}}, nil
	})

	resolved, err := tools.ResolveTool(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, resolved.ID)
	assert.Equal(t, []string{"text"}, resolved.RequiredParameters())

	result, err := tools.ExecuteTool(context.Background(), def.ID, map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.CannedResponseFields["echo"])

	_, err = tools.ResolveTool(context.Background(), core.ToolID{ServiceName: "no", ToolName: "pe"})
	assert.Error(t, err)
}

func TestInspectionsAccumulate(t *testing.T) {
	reg := NewInMemory()
	require.NoError(t, reg.CreateInspection(context.Background(), core.Inspection{SessionID: "s1", Iterations: 1}))
	require.NoError(t, reg.CreateInspection(context.Background(), core.Inspection{SessionID: "s1", Iterations: 2}))
	assert.Len(t, reg.Inspections(), 2)
}
