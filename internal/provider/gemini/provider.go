// Package gemini implements llm.ChatProvider against
// google.golang.org/genai, grounded on the teacher's
// pkg/client/gemini.GeminiClient.chatWithStreaming iter.Seq2 loop,
// generalized to yield llm.Chunk values as each part of each streamed
// candidate arrives instead of accumulating one final message.Message.
package gemini

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

// Provider wraps one Gemini model.
type Provider struct {
	client *genai.Client
	model  string
}

// New constructs a Provider against the Gemini API backend.
func New(ctx context.Context, model, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// Stream implements llm.ChatProvider.
func (p *Provider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan llm.Chunk, error) {
	contents, systemInstruction := toGeminiContents(history)
	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Tools:             toGeminiTools(tools),
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)

		stream := p.client.Models.GenerateContentStream(ctx, p.model, contents, config)
		toolIdx := 0
		for resp, err := range stream {
			if err != nil {
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					select {
					case out <- llm.Chunk{
						Kind:           llm.ChunkToolCallDelta,
						Index:          toolIdx,
						ID:             part.FunctionCall.Name,
						Name:           part.FunctionCall.Name,
						ArgumentsDelta: string(argsJSON),
					}:
					case <-ctx.Done():
						return
					}
					toolIdx++
					continue
				}
				if part.Text != "" {
					select {
					case out <- llm.Chunk{Kind: llm.ChunkText, Text: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.UsageMetadata != nil {
				select {
				case out <- llm.Chunk{Kind: llm.ChunkUsage, Tokens: int(resp.UsageMetadata.TotalTokenCount)}:
				case <-ctx.Done():
					return
				}
			}
		}
		out <- llm.Chunk{Kind: llm.ChunkDone}
	}()
	return out, nil
}

func toGeminiContents(history []message.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content
	for _, m := range history {
		switch m.Role {
		case message.RoleSystem:
			systemInstruction = genai.NewContentFromText(m.Text(), genai.RoleUser)
		case message.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Text(), genai.RoleUser))
		case message.RoleAssistant:
			var parts []*genai.Part
			for _, p := range m.Content {
				switch p.Type {
				case message.PartText:
					parts = append(parts, &genai.Part{Text: p.Text})
				case message.PartToolCall:
					var args map[string]any
					_ = json.Unmarshal([]byte(p.ToolArgsJSON), &args)
					parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: p.ToolName, Args: args}})
				}
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case message.RoleTool:
			for _, p := range m.Content {
				if p.Type != message.PartToolResult {
					continue
				}
				text := p.ToolOutput
				if p.ToolStatus != message.StatusOK {
					text = p.ToolMessage
				}
				contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
			}
		}
	}
	return contents, systemInstruction
}

type rawSchemaShape struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func toGeminiTools(tools []registry.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		raw, _ := json.Marshal(t.ParameterSchema)
		var shape rawSchemaShape
		_ = json.Unmarshal(raw, &shape)
		props := map[string]*genai.Schema{}
		for name := range shape.Properties {
			props[name] = &genai.Schema{Type: genai.TypeString}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   shape.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
