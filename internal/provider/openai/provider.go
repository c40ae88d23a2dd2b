// Package openai implements llm.ChatProvider against the OpenAI Responses
// API via github.com/openai/openai-go/v2, grounded on the teacher's
// pkg/client/openai.OpenAIClient.chatWithStreaming loop, generalized to
// yield llm.Chunk values instead of building one complete message.Message.
package openai

import (
	"context"
	"encoding/json"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/responses"
	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

// Provider wraps one OpenAI model via the Responses API.
type Provider struct {
	client    openai.Client
	model     string
	maxTokens int
}

// New constructs a Provider, reading the API key from OPENAI_API_KEY.
func New(model string, maxTokens int) (*Provider, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	return &Provider{client: openai.NewClient(), model: model, maxTokens: maxTokens}, nil
}

// Stream implements llm.ChatProvider.
func (p *Provider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan llm.Chunk, error) {
	params := responses.ResponseNewParams{
		Model: p.model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: toInputItems(history)},
		Tools: toFunctionTools(tools),
	}
	if p.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(p.maxTokens))
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)

		stream := p.client.Responses.NewStreaming(ctx, params)
		callIndex := map[string]int{}
		nextIdx := 0

		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				if e.Delta != "" {
					select {
					case out <- llm.Chunk{Kind: llm.ChunkText, Text: e.Delta}:
					case <-ctx.Done():
						return
					}
				}
			case responses.ResponseOutputItemAddedEvent:
				if fc, ok := e.Item.AsAny().(responses.ResponseFunctionToolCall); ok {
					idx, seen := callIndex[fc.CallID]
					if !seen {
						idx = nextIdx
						nextIdx++
						callIndex[fc.CallID] = idx
					}
					select {
					case out <- llm.Chunk{Kind: llm.ChunkToolCallDelta, Index: idx, ID: fc.CallID, Name: fc.Name}:
					case <-ctx.Done():
						return
					}
				}
			case responses.ResponseFunctionCallArgumentsDeltaEvent:
				idx := nextIdx - 1
				select {
				case out <- llm.Chunk{Kind: llm.ChunkToolCallDelta, Index: idx, ArgumentsDelta: e.Delta}:
				case <-ctx.Done():
					return
				}
			case responses.ResponseCompletedEvent:
				if u := e.Response.Usage; u.OutputTokens > 0 {
					select {
					case out <- llm.Chunk{Kind: llm.ChunkUsage, Tokens: int(u.OutputTokens)}:
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

func toInputItems(history []message.Message) responses.ResponseInputParam {
	var items responses.ResponseInputParam
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), responses.EasyInputMessageRoleUser))
		case message.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), responses.EasyInputMessageRoleSystem))
		case message.RoleAssistant:
			for _, part := range m.Content {
				switch part.Type {
				case message.PartText:
					items = append(items, responses.ResponseInputItemParamOfMessage(part.Text, responses.EasyInputMessageRoleAssistant))
				case message.PartToolCall:
					items = append(items, responses.ResponseInputItemParamOfFunctionCall(part.ToolArgsJSON, part.ToolCallID, part.ToolName))
				}
			}
		case message.RoleTool:
			for _, part := range m.Content {
				if part.Type != message.PartToolResult {
					continue
				}
				output := part.ToolOutput
				if part.ToolStatus != message.StatusOK {
					output = part.ToolMessage
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(part.ToolResultCallID, output))
			}
		}
	}
	return items
}

// rawSchemaShape is the generic {"properties","required"} projection a
// tool's schema marshals to; the Responses API function tool wants a raw
// JSON Schema object for Parameters.
type rawSchemaShape struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func toFunctionTools(tools []registry.ToolSpec) []responses.ToolUnionParam {
	var out []responses.ToolUnionParam
	for _, t := range tools {
		raw, _ := json.Marshal(t.ParameterSchema)
		var shape rawSchemaShape
		_ = json.Unmarshal(raw, &shape)
		if shape.Type == "" {
			shape.Type = "object"
		}
		params, _ := json.Marshal(shape)
		var paramsMap map[string]any
		_ = json.Unmarshal(params, &paramsMap)

		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  paramsMap,
			},
		})
	}
	return out
}
