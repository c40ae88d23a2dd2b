// Package ollama implements llm.ChatProvider against a local Ollama
// daemon via github.com/ollama/ollama's api package, grounded on the
// teacher's pkg/client/ollama.OllamaCore.chat callback loop, generalized
// from accumulating one api.Message into streaming llm.Chunk values.
package ollama

import (
	"context"
	"encoding/json"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

// Provider wraps one local Ollama model.
type Provider struct {
	client *api.Client
	model  string
}

// New constructs a Provider from the environment-configured Ollama host
// (OLLAMA_HOST), mirroring api.ClientFromEnvironment.
func New(model string) (*Provider, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "ollama client from environment")
	}
	return &Provider{client: client, model: model}, nil
}

// Stream implements llm.ChatProvider.
func (p *Provider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan llm.Chunk, error) {
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: toOllamaMessages(history),
		Tools:    toOllamaTools(tools),
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)

		toolIdx := 0
		err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case out <- llm.Chunk{Kind: llm.ChunkText, Text: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Function.Arguments)
				select {
				case out <- llm.Chunk{
					Kind:           llm.ChunkToolCallDelta,
					Index:          toolIdx,
					ID:             tc.Function.Name,
					Name:           tc.Function.Name,
					ArgumentsDelta: string(argsJSON),
				}:
				case <-ctx.Done():
					return ctx.Err()
				}
				toolIdx++
			}
			if resp.Done {
				select {
				case out <- llm.Chunk{Kind: llm.ChunkUsage, Tokens: resp.EvalCount + resp.PromptEvalCount}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			return
		}
		out <- llm.Chunk{Kind: llm.ChunkDone}
	}()
	return out, nil
}

func toOllamaMessages(history []message.Message) []api.Message {
	var out []api.Message
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			out = append(out, api.Message{Role: "user", Content: m.Text()})
		case message.RoleSystem:
			out = append(out, api.Message{Role: "system", Content: m.Text()})
		case message.RoleAssistant:
			am := api.Message{Role: "assistant", Content: m.Text()}
			for _, p := range m.Content {
				if p.Type != message.PartToolCall {
					continue
				}
				var args map[string]any
				_ = json.Unmarshal([]byte(p.ToolArgsJSON), &args)
				am.ToolCalls = append(am.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{Name: p.ToolName, Arguments: args},
				})
			}
			out = append(out, am)
		case message.RoleTool:
			for _, p := range m.Content {
				if p.Type != message.PartToolResult {
					continue
				}
				content := p.ToolOutput
				if p.ToolStatus != message.StatusOK {
					content = p.ToolMessage
				}
				out = append(out, api.Message{Role: "tool", Content: content})
			}
		}
	}
	return out
}

type rawSchemaShape struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func toOllamaTools(tools []registry.ToolSpec) api.Tools {
	var out api.Tools
	for _, t := range tools {
		raw, _ := json.Marshal(t.ParameterSchema)
		var shape rawSchemaShape
		_ = json.Unmarshal(raw, &shape)
		if shape.Type == "" {
			shape.Type = "object"
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       shape.Type,
					Properties: shape.Properties,
					Required:   shape.Required,
				},
			},
		})
	}
	return out
}
