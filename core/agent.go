package core

import "context"

// AgentID uniquely identifies an agent.
type AgentID string

// TagID labels entities for scoping (guidelines, canned responses, agents).
type TagID string

// CompositionMode selects how the message composer produces replies.
type CompositionMode string

const (
	// CompositionModeFluid generates free text directly from the LLM.
	CompositionModeFluid CompositionMode = "fluid"
	// CompositionModeCannedStrict replies only with pre-authored templates.
	CompositionModeCannedStrict CompositionMode = "canned_strict"
	// CompositionModeCannedComposited rewrites the draft in template style.
	CompositionModeCannedComposited CompositionMode = "canned_composited"
	// CompositionModeCannedFluid prefers templates but falls back to fluid.
	CompositionModeCannedFluid CompositionMode = "canned_fluid"
)

// Agent is the identity of the replying party. Immutable within a processing
// cycle.
type Agent struct {
	ID                  AgentID         `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	CompositionMode     CompositionMode `json:"composition_mode"`
	MaxEngineIterations int             `json:"max_engine_iterations"`
	Tags                []TagID         `json:"tags,omitempty"`
}

// AgentStore resolves agent identities.
type AgentStore interface {
	ReadAgent(ctx context.Context, id AgentID) (*Agent, error)
}

// CustomerID uniquely identifies a customer.
type CustomerID string

// Customer is the party the agent is conversing with.
type Customer struct {
	ID       CustomerID        `json:"id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CustomerStore resolves customer identities.
type CustomerStore interface {
	ReadCustomer(ctx context.Context, id CustomerID) (*Customer, error)
}

// ContextVariable is a per-(agent, customer) key/value injected into prompts
// and available as a standard canned-response field source.
type ContextVariable struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ContextVariableStore lists variables for an agent/customer pair.
type ContextVariableStore interface {
	ListVariables(ctx context.Context, agentID AgentID, customerID CustomerID) ([]ContextVariable, error)
}

// Term is a glossary entry made available to prompts when semantically
// relevant to the current interaction.
type Term struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Synonyms    []string `json:"synonyms,omitempty"`
}

// GlossaryStore retrieves terms relevant to a query.
type GlossaryStore interface {
	FindRelevantTerms(ctx context.Context, query string, maxTerms int) ([]Term, error)
}

// Capability describes something the agent is able to do, surfaced to the
// composer so replies do not promise the impossible.
type Capability struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CapabilityStore lists capabilities for an agent.
type CapabilityStore interface {
	FindCapabilities(ctx context.Context, agentID AgentID) ([]Capability, error)
}
