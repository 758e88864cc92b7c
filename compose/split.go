package compose

import (
	"context"
	"strings"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
	"github.com/parley-ai/parley/generation"
)

// SplitChunks splits a reply on blank lines into non-empty trimmed chunks.
func SplitChunks(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// PacedDelay is the pause after sending a chunk, scaled to reading speed
// (one second per 50 words) with a half-second floor.
func PacedDelay(wordsJustSent int) time.Duration {
	seconds := float64(wordsJustSent) / 50.0
	if seconds < 0.5 {
		seconds = 0.5
	}
	return time.Duration(seconds * float64(time.Second))
}

// TypingDelay is the pause after the typing indicator, before the next
// chunk: a base of 1s for short chunks (up to 10 words) or 2s otherwise,
// plus the reading-speed component of the upcoming chunk.
func TypingDelay(nextWords int) time.Duration {
	base := 1.0
	if nextWords > 10 {
		base = 2.0
	}
	return time.Duration((base + float64(nextWords)/50.0) * float64(time.Second))
}

// emitChunks splits text on blank lines and emits the chunks in order with
// paced inter-message delays. Each chunk is followed by a ready status
// except the last, whose terminal ready the engine emits. Dropped chunks
// (hook returned false) do not interrupt the sequence.
func emitChunks(
	ctx context.Context,
	req Request,
	em emit.Emitter,
	onChunk ChunkHook,
	sleep Sleeper,
	text string,
	draft string,
	cannedResponses []string,
	tags []string,
	usage generation.Usage,
) (Output, error) {
	chunks := SplitChunks(text)
	out := Output{Usage: usage}

	participant := core.Participant{ID: string(req.Agent.ID), DisplayName: req.Agent.Name}

	emitted := 0
	lastSent := ""
	for i, chunk := range chunks {
		if onChunk != nil {
			proceed, err := onChunk(ctx, chunk)
			if err != nil {
				return out, err
			}
			if !proceed {
				continue
			}
		}

		if emitted > 0 {
			if err := sleep(ctx, PacedDelay(wordCount(lastSent))); err != nil {
				return out, err
			}
			if _, err := em.EmitStatus(ctx, core.StatusEventData{Status: core.StatusTyping}); err != nil {
				return out, err
			}
			if err := sleep(ctx, TypingDelay(wordCount(chunk))); err != nil {
				return out, err
			}
		}

		ev, err := em.EmitMessage(ctx, core.MessageEventData{
			Message:         chunk,
			Participant:     participant,
			Draft:           draft,
			CannedResponses: cannedResponses,
			Tags:            tags,
		})
		if err != nil {
			return out, err
		}
		out.Messages = append(out.Messages, ev)
		emitted++
		lastSent = chunk

		if i < len(chunks)-1 {
			if _, err := em.EmitStatus(ctx, core.StatusEventData{Status: core.StatusReady}); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
