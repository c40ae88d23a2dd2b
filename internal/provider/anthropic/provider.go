// Package anthropic implements llm.ChatProvider against
// github.com/anthropics/anthropic-sdk-go, grounded on the teacher's
// pkg/client/anthropic.AnthropicClient streaming loop (chatWithStreaming),
// generalized from that loop's single-message return value into a Chunk
// channel the Facade assembles.
package anthropic

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

const defaultMaxTokens = 8192

// Provider wraps one Anthropic model.
type Provider struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New constructs a Provider, reading the API key from ANTHROPIC_API_KEY.
func New(model string, maxTokens int) (*Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model, maxTokens: int64(maxTokens)}, nil
}

// Stream implements llm.ChatProvider.
func (p *Provider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan llm.Chunk, error) {
	var system []anthropic.TextBlockParam
	for _, m := range history {
		if m.Role == message.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Text()})
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System:    system,
		Messages:  toAnthropicMessages(history),
		Tools:     toAnthropicTools(tools),
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		toolIndex := map[string]int{} // anthropic tool_use block id -> facade index
		nextIdx := 0

		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					idx, seen := toolIndex[block.ID]
					if !seen {
						idx = nextIdx
						nextIdx++
						toolIndex[block.ID] = idx
					}
					select {
					case out <- llm.Chunk{Kind: llm.ChunkToolCallDelta, Index: idx, ID: block.ID, Name: block.Name}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					select {
					case out <- llm.Chunk{Kind: llm.ChunkText, Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				case anthropic.ThinkingDelta:
					select {
					case out <- llm.Chunk{Kind: llm.ChunkThinking, Text: delta.Thinking}:
					case <-ctx.Done():
						return
					}
				case anthropic.InputJSONDelta:
					// Correlate by content-block start order; Anthropic streams
					// input_json_delta only for the most recently started block.
					idx := nextIdx - 1
					select {
					case out <- llm.Chunk{Kind: llm.ChunkToolCallDelta, Index: idx, ArgumentsDelta: delta.PartialJSON}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				if e.Usage.OutputTokens > 0 {
					select {
					case out <- llm.Chunk{Kind: llm.ChunkUsage, Tokens: int(e.Usage.OutputTokens)}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return
		}
		out <- llm.Chunk{Kind: llm.ChunkDone}
	}()
	return out, nil
}

func toAnthropicMessages(history []message.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case message.RoleSystem:
			continue // system prompt is sent via params.System, not history
		case message.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		case message.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range m.Content {
				switch p.Type {
				case message.PartText:
					blocks = append(blocks, anthropic.NewTextBlock(p.Text))
				case message.PartToolCall:
					var input map[string]any
					_ = json.Unmarshal([]byte(p.ToolArgsJSON), &input)
					blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName))
				}
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case message.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range m.Content {
				if p.Type != message.PartToolResult {
					continue
				}
				text := p.ToolOutput
				if p.ToolStatus != message.StatusOK {
					text = p.ToolMessage
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: p.ToolResultCallID,
						IsError:   anthropic.Bool(p.ToolStatus != message.StatusOK),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: text}},
						},
					},
				})
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// rawSchemaShape is the generic {"properties","required"} projection every
// internal/toolschema.Schema (and any other jsonschema-shaped value) marshals
// to; Anthropic's ToolInputSchemaParam wants exactly these two fields.
type rawSchemaShape struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func toAnthropicTools(tools []registry.ToolSpec) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		raw, _ := json.Marshal(t.ParameterSchema)
		var shape rawSchemaShape
		_ = json.Unmarshal(raw, &shape)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: shape.Properties,
					Required:   shape.Required,
				},
			},
		})
	}
	return out
}
