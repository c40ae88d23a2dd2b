// Package llm wraps a vendor-specific ChatProvider behind a single
// streaming contract and assembles its Chunk stream into complete
// AssistantOutput values, generalized from the teacher's per-vendor
// domain.LLM/domain.ToolCallingLLM split (pkg/client/*) into one facade the
// Loop Driver depends on.
package llm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

// ChunkKind discriminates the Chunk variants a ChatProvider streams.
type ChunkKind string

const (
	ChunkText         ChunkKind = "text"
	ChunkThinking     ChunkKind = "thinking" // Anthropic-only; other providers never emit it
	ChunkToolCallDelta ChunkKind = "tool_call_delta"
	ChunkUsage        ChunkKind = "usage"
	ChunkDone         ChunkKind = "done"
)

// Chunk is one streamed fragment from a ChatProvider.
type Chunk struct {
	Kind ChunkKind

	Text string // ChunkText, ChunkThinking

	// ChunkToolCallDelta
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string

	Tokens int // ChunkUsage
}

// ChatProvider is the vendor-SDK-facing contract every internal/provider
// adapter implements.
type ChatProvider interface {
	Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan Chunk, error)
}

// AssistantOutput is one fully-assembled model turn.
type AssistantOutput struct {
	Parts       []message.ContentPart
	TokenCount  int
	Interrupted bool
}

// toolCallBuilder accumulates ToolCallDelta chunks for one index.
type toolCallBuilder struct {
	id        string
	name      string
	argsDelta string
	latched   bool
}

// Facade drives a ChatProvider's chunk stream and republishes its content
// parts via the supplied sink as they are assembled, matching §4.7's
// requirement that the Loop Driver forward emerging parts in emission
// order. sink may be nil.
type Facade struct {
	provider ChatProvider
}

// New wraps a ChatProvider.
func New(provider ChatProvider) *Facade {
	return &Facade{provider: provider}
}

// Sink receives each ContentPart as it is fully assembled: one TextPart per
// run of consecutive text chunks, flushed when a tool-call delta arrives or
// the stream ends, and the ToolCall parts once the stream ends, in the order
// their indices were first seen.
type Sink func(message.ContentPart)

// Run drives the provider to completion (or cancellation) and returns the
// assembled AssistantOutput.
func (f *Facade) Run(ctx context.Context, history []message.Message, tools []registry.ToolSpec, sink Sink) (AssistantOutput, error) {
	chunks, err := f.provider.Stream(ctx, history, tools)
	if err != nil {
		return AssistantOutput{}, errors.Wrap(err, "provider stream")
	}

	var (
		textBuf     string
		parts       []message.ContentPart
		builders    = map[int]*toolCallBuilder{}
		order       []int
		tokenCount  int
		interrupted bool
	)

	flushText := func() {
		if textBuf != "" {
			p := message.TextPart(textBuf)
			parts = append(parts, p)
			if sink != nil {
				sink(p)
			}
			textBuf = ""
		}
	}

	for {
		select {
		case <-ctx.Done():
			interrupted = true
			goto assembled
		case chunk, ok := <-chunks:
			if !ok {
				goto assembled
			}
			switch chunk.Kind {
			case ChunkText, ChunkThinking:
				textBuf += chunk.Text
			case ChunkToolCallDelta:
				flushText()
				b, exists := builders[chunk.Index]
				if !exists {
					b = &toolCallBuilder{}
					builders[chunk.Index] = b
					order = append(order, chunk.Index)
				}
				if chunk.ID != "" {
					if b.latched && b.id != "" && b.id != chunk.ID {
						return AssistantOutput{}, errors.Errorf("tool call index %d: id latched out of order", chunk.Index)
					}
					b.id = chunk.ID
				}
				if chunk.Name != "" {
					if b.latched && b.name != "" && b.name != chunk.Name {
						return AssistantOutput{}, errors.Errorf("tool call index %d: name latched out of order", chunk.Index)
					}
					b.name = chunk.Name
				}
				if chunk.ID != "" || chunk.Name != "" {
					b.latched = true
				}
				b.argsDelta += chunk.ArgumentsDelta
			case ChunkUsage:
				tokenCount = chunk.Tokens
			case ChunkDone:
				goto assembled
			}
		}
	}

assembled:
	flushText()
	for _, idx := range order {
		b := builders[idx]
		p := message.ToolCallPart(b.id, b.name, b.argsDelta)
		parts = append(parts, p)
		if sink != nil {
			sink(p)
		}
	}

	return AssistantOutput{Parts: parts, TokenCount: tokenCount, Interrupted: interrupted}, nil
}
