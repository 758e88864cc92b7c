package core

import "context"

// TagPreamble marks canned responses eligible as latency-masking preambles.
const TagPreamble TagID = "preamble"

// CannedResponse is a pre-authored reply template. Template variables use
// the "{{field}}" form; Signals are paraphrases used for semantic retrieval
// against a draft reply.
type CannedResponse struct {
	ID       string   `json:"id"`
	Template string   `json:"template"`
	Fields   []string `json:"fields,omitempty"`
	Signals  []string `json:"signals,omitempty"`
	Tags     []TagID  `json:"tags,omitempty"`
}

// HasTag reports whether the response carries the tag.
func (c *CannedResponse) HasTag(tag TagID) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CannedResponseStore retrieves templates relevant to the current context.
type CannedResponseStore interface {
	FindForContext(
		ctx context.Context,
		agentID AgentID,
		journeys []JourneyID,
		guidelines []GuidelineID,
	) ([]*CannedResponse, error)
}
