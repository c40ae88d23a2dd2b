package llm

import (
	"context"
	"testing"
	"time"

	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
)

type stubProvider struct {
	chunks []Chunk
}

func (p *stubProvider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan Chunk, error) {
	out := make(chan Chunk, len(p.chunks)+1)
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestRunAssemblesTextChunks(t *testing.T) {
	provider := &stubProvider{chunks: []Chunk{
		{Kind: ChunkText, Text: "hel"},
		{Kind: ChunkText, Text: "lo"},
		{Kind: ChunkUsage, Tokens: 12},
		{Kind: ChunkDone},
	}}
	facade := New(provider)

	var sunk []message.ContentPart
	out, err := facade.Run(context.Background(), nil, nil, func(p message.ContentPart) { sunk = append(sunk, p) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Parts) != 1 || out.Parts[0].Text != "hello" {
		t.Fatalf("expected a single assembled text part 'hello', got %+v", out.Parts)
	}
	if out.TokenCount != 12 {
		t.Fatalf("expected token count 12, got %d", out.TokenCount)
	}
	if len(sunk) != 1 || sunk[0].Text != "hello" {
		t.Fatalf("expected sink to observe the assembled text part, got %+v", sunk)
	}
}

func TestRunAssemblesToolCallAcrossDeltas(t *testing.T) {
	provider := &stubProvider{chunks: []Chunk{
		{Kind: ChunkToolCallDelta, Index: 0, ID: "call_1", Name: "bash"},
		{Kind: ChunkToolCallDelta, Index: 0, ArgumentsDelta: `{"command":`},
		{Kind: ChunkToolCallDelta, Index: 0, ArgumentsDelta: `"ls"}`},
		{Kind: ChunkDone},
	}}
	facade := New(provider)

	out, err := facade.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Parts) != 1 {
		t.Fatalf("expected exactly one assembled tool call part, got %d", len(out.Parts))
	}
	p := out.Parts[0]
	if p.Type != message.PartToolCall || p.ToolCallID != "call_1" || p.ToolName != "bash" {
		t.Fatalf("unexpected assembled tool call: %+v", p)
	}
	if p.ToolArgsJSON != `{"command":"ls"}` {
		t.Fatalf("expected assembled arguments, got %q", p.ToolArgsJSON)
	}
}

func TestRunPreservesEmissionOrderOfTextThenToolCall(t *testing.T) {
	provider := &stubProvider{chunks: []Chunk{
		{Kind: ChunkText, Text: "checking..."},
		{Kind: ChunkToolCallDelta, Index: 0, ID: "call_1", Name: "bash", ArgumentsDelta: "{}"},
		{Kind: ChunkDone},
	}}
	facade := New(provider)

	out, err := facade.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(out.Parts))
	}
	if out.Parts[0].Type != message.PartText || out.Parts[1].Type != message.PartToolCall {
		t.Fatalf("expected text before tool call, got %+v", out.Parts)
	}
}

func TestRunRejectsOutOfOrderIDLatch(t *testing.T) {
	provider := &stubProvider{chunks: []Chunk{
		{Kind: ChunkToolCallDelta, Index: 0, ID: "call_1", Name: "bash"},
		{Kind: ChunkToolCallDelta, Index: 0, ID: "call_2"},
		{Kind: ChunkDone},
	}}
	facade := New(provider)

	_, err := facade.Run(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error when a tool call's id changes after latching")
	}
}

func TestRunHandlesCancellationAsInterrupted(t *testing.T) {
	blocked := make(chan Chunk)
	provider := &blockingProvider{ch: blocked}
	facade := New(provider)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out, err := facade.Run(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Interrupted {
		t.Fatal("expected Interrupted to be true on context cancellation")
	}
}

type blockingProvider struct {
	ch chan Chunk
}

func (p *blockingProvider) Stream(ctx context.Context, history []message.Message, tools []registry.ToolSpec) (<-chan Chunk, error) {
	return p.ch, nil
}
