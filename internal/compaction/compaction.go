// Package compaction implements soul.CompactionStrategy by calling back
// into the LLM Facade for an actual summary, per the normative reading of
// the core's Open Question (a): a strategy that only emits events without
// replacing the prefix is a bug, not an accepted shape. Grounded on the
// teacher's pkg/agent/state.CompactIfNeeded, which already asked the LLM
// client for a summary before truncating the message slice.
package compaction

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
)

const summaryPrompt = "Summarize the conversation so far in a few dense paragraphs, " +
	"preserving any decisions, file paths, and open tasks a continuation would need. " +
	"Do not use tool calls."

// Strategy asks the wrapped LLM Facade to summarize a history prefix and
// returns the summary as a single assistant Message.
type Strategy struct {
	facade *llm.Facade
}

// New constructs a compaction Strategy around the same Facade the Loop
// Driver uses for ordinary turns.
func New(facade *llm.Facade) *Strategy {
	return &Strategy{facade: facade}
}

// Summarize implements soul.CompactionStrategy.
func (s *Strategy) Summarize(ctx context.Context, prefix []message.Message) (message.Message, error) {
	if len(prefix) == 0 {
		return message.NewAssistantMessage([]message.ContentPart{message.TextPart("")}), nil
	}

	request := append(append([]message.Message{}, prefix...), message.NewUserMessage(summaryPrompt))
	out, err := s.facade.Run(ctx, request, nil, nil)
	if err != nil {
		return message.Message{}, errors.Wrap(err, "summarize prefix")
	}

	text := out.Parts
	if len(text) == 0 {
		text = []message.ContentPart{message.TextPart(fmt.Sprintf("[compacted %d earlier messages]", len(prefix)))}
	}
	return message.NewAssistantMessage(text), nil
}
