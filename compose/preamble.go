package compose

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
	"github.com/parley-ai/parley/internal/util"
	"github.com/parley-ai/parley/logging"
)

// TagPreambleMessage labels emitted preamble message events.
const TagPreambleMessage = "preamble"

// preambleExemplars seed the free-form preamble generation in non-strict
// modes.
var preambleExemplars = []string{
	"Let me take a look at that for you.",
	"One moment while I check.",
	"Sure, give me a second to look into this.",
	"Good question - let me find out.",
}

// preambleReply is the schematic output of preamble generation.
type preambleReply struct {
	Message string `json:"message" description:"a single short acknowledgement phrase"`
}

// PreambleGenerator emits at most one short bridging message before the
// real work of a cycle, masking preparation latency.
type PreambleGenerator struct {
	generator generation.SchematicGenerator
	store     core.CannedResponseStore
	logger    logging.Logger
	rand      *rand.Rand
}

// PreambleOptions configures a PreambleGenerator.
type PreambleOptions struct {
	Generator generation.SchematicGenerator
	Store     core.CannedResponseStore
	Logger    logging.Logger
	Rand      *rand.Rand
}

// NewPreambleGenerator constructs a PreambleGenerator. A nil Rand uses the
// shared global source.
func NewPreambleGenerator(optFns ...func(o *PreambleOptions)) *PreambleGenerator {
	opts := PreambleOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &PreambleGenerator{
		generator: opts.Generator,
		store:     opts.Store,
		logger:    opts.Logger,
		rand:      opts.Rand,
	}
}

func (p *PreambleGenerator) shuffle(items []string) {
	swap := func(i, j int) { items[i], items[j] = items[j], items[i] }
	if p.rand != nil {
		p.rand.Shuffle(len(items), swap)
	} else {
		rand.Shuffle(len(items), swap)
	}
}

// GeneratePreamble emits at most one message tagged as a preamble. In
// strict mode the model must pick one of the rendered preamble-tagged
// templates verbatim; a non-verbatim pick falls back to the first shuffled
// option. In other modes the model writes a short phrase in the spirit of
// the exemplars.
func (p *PreambleGenerator) GeneratePreamble(
	ctx context.Context,
	req Request,
	em emit.Emitter,
) (Output, error) {
	var out Output

	message := ""
	if req.Agent.CompositionMode == core.CompositionModeCannedStrict {
		options, err := p.strictOptions(ctx, req)
		if err != nil {
			return out, err
		}
		if len(options) == 0 {
			return out, nil
		}
		p.shuffle(options)

		var sb strings.Builder
		sb.WriteString("The customer just wrote and a fuller answer is being prepared. " +
			"Pick the short acknowledgement below that fits best and copy it verbatim.\n\nOptions:\n")
		for i, o := range options {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, o)
		}
		reply, usage, err := generation.Generate[preambleReply](ctx, p.generator, sb.String(), generation.Hints{Temperature: 0.3})
		out.Usage = out.Usage.Add(usage)
		if err != nil {
			if core.IsCancelled(err) {
				return out, err
			}
			p.logger.Warn("preamble selection failed: %v", err)
			reply.Message = ""
		}
		message = options[0]
		for _, o := range options {
			if o == reply.Message {
				message = o
				break
			}
		}
	} else {
		var sb strings.Builder
		fmt.Fprintf(&sb, "You are %s. The customer just wrote:\n%s\n\n",
			req.Agent.Name, lastCustomerMessage(req.Interaction))
		sb.WriteString("Write one short acknowledgement phrase (under 12 words) to send while " +
			"the real answer is being prepared. Do not answer the question itself. " +
			"Phrases in this spirit:\n")
		for _, e := range preambleExemplars {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
		reply, usage, err := generation.Generate[preambleReply](ctx, p.generator, sb.String(), generation.Hints{Temperature: 0.5})
		out.Usage = out.Usage.Add(usage)
		if err != nil {
			if core.IsCancelled(err) {
				return out, err
			}
			p.logger.Warn("preamble generation failed: %v", err)
			return out, nil
		}
		message = strings.TrimSpace(reply.Message)
	}

	if message == "" {
		return out, nil
	}
	ev, err := em.EmitMessage(ctx, core.MessageEventData{
		Message:     message,
		Participant: core.Participant{ID: string(req.Agent.ID), DisplayName: req.Agent.Name},
		Tags:        []string{TagPreambleMessage},
	})
	if err != nil {
		return out, err
	}
	out.Messages = append(out.Messages, ev)
	return out, nil
}

// strictOptions renders the preamble-tagged templates whose fields resolve
// from standard sources alone.
func (p *PreambleGenerator) strictOptions(ctx context.Context, req Request) ([]string, error) {
	candidates, err := p.store.FindForContext(ctx, req.Agent.ID, req.ActiveJourneys, req.MatchedGuidelines)
	if err != nil {
		return nil, fmt.Errorf("find preamble templates: %w", err)
	}
	var options []string
	for _, c := range candidates {
		if !c.HasTag(core.TagPreamble) {
			continue
		}
		fields := map[string]string{}
		resolvable := true
		for _, f := range util.TemplateFields(c.Template) {
			v, ok := standardField(req, f)
			if !ok {
				resolvable = false
				break
			}
			fields[f] = v
		}
		if !resolvable {
			continue
		}
		if text, ok := util.RenderTemplate(c.Template, fields); ok {
			options = append(options, text)
		}
	}
	return options, nil
}

func lastCustomerMessage(events []core.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Kind != core.EventKindMessage || ev.Source != core.EventSourceCustomer {
			continue
		}
		if data, err := core.DecodeMessageEventData(ev); err == nil {
			return data.Message
		}
	}
	return ""
}
