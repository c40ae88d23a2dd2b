package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leavesfly/jimi/pkg/message"
)

var errExecutionFailed = errors.New("execution failed")

type stubSchema struct {
	required []string
}

func (s stubSchema) RequiredFields() []string { return s.required }

type stubTool struct {
	name     string
	schema   any
	execute  func(ctx context.Context, raw json.RawMessage) (message.ContentPart, error)
}

func (t *stubTool) Name() string         { return t.name }
func (t *stubTool) Description() string  { return "stub" }
func (t *stubTool) ParameterSchema() any { return t.schema }
func (t *stubTool) Execute(ctx context.Context, raw json.RawMessage) (message.ContentPart, error) {
	return t.execute(ctx, raw)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := New()
	result := r.Dispatch(context.Background(), message.ToolCallPart("1", "ghost", "{}"))
	if result.ToolStatus != message.StatusError {
		t.Fatalf("expected StatusError, got %v", result.ToolStatus)
	}
	if result.ToolResultCallID != "1" {
		t.Fatalf("expected result to carry the call id, got %q", result.ToolResultCallID)
	}
}

func TestDispatchInvalidJSON(t *testing.T) {
	r := New()
	tool := &stubTool{name: "echo", schema: stubSchema{}}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	result := r.Dispatch(context.Background(), message.ToolCallPart("1", "echo", "{not json"))
	if result.ToolStatus != message.StatusError {
		t.Fatalf("expected StatusError for invalid JSON, got %v", result.ToolStatus)
	}
}

func TestDispatchMissingRequiredFields(t *testing.T) {
	r := New()
	tool := &stubTool{name: "echo", schema: stubSchema{required: []string{"text"}}}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	result := r.Dispatch(context.Background(), message.ToolCallPart("1", "echo", "{}"))
	if result.ToolStatus != message.StatusError {
		t.Fatalf("expected StatusError for missing required fields, got %v", result.ToolStatus)
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := New()
	tool := &stubTool{
		name:   "echo",
		schema: stubSchema{required: []string{"text"}},
		execute: func(ctx context.Context, raw json.RawMessage) (message.ContentPart, error) {
			var args struct{ Text string }
			_ = json.Unmarshal(raw, &args)
			return message.ToolResultPart("", message.StatusOK, "", args.Text), nil
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	result := r.Dispatch(context.Background(), message.ToolCallPart("42", "echo", `{"text":"hi"}`))
	if result.ToolStatus != message.StatusOK {
		t.Fatalf("expected StatusOK, got %v: %s", result.ToolStatus, result.ToolMessage)
	}
	if result.ToolOutput != "hi" {
		t.Fatalf("expected output 'hi', got %q", result.ToolOutput)
	}
	if result.ToolResultCallID != "42" {
		t.Fatalf("expected call id stamped onto result, got %q", result.ToolResultCallID)
	}
}

func TestDispatchNeverReturnsGoError(t *testing.T) {
	r := New()
	tool := &stubTool{
		name:   "boom",
		schema: stubSchema{},
		execute: func(ctx context.Context, raw json.RawMessage) (message.ContentPart, error) {
			return message.ContentPart{}, errExecutionFailed
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	result := r.Dispatch(context.Background(), message.ToolCallPart("1", "boom", "{}"))
	if result.ToolStatus != message.StatusError {
		t.Fatalf("expected execution error to surface as StatusError, got %v", result.ToolStatus)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	t1 := &stubTool{name: "dup", schema: stubSchema{}}
	t2 := &stubTool{name: "dup", schema: stubSchema{}}
	if err := r.Register(t1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(t2); err == nil {
		t.Fatal("expected duplicate registration to error")
	}
}

func TestCatalogPreservesRegistrationOrder(t *testing.T) {
	r := New()
	_ = r.Register(&stubTool{name: "a", schema: stubSchema{}})
	_ = r.Register(&stubTool{name: "b", schema: stubSchema{}})
	_ = r.Register(&stubTool{name: "c", schema: stubSchema{}})
	catalog := r.Catalog()
	var names []string
	for _, s := range catalog {
		names = append(names, s.Name)
	}
	want := []string{"a", "b", "c"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

func TestNormalizeTruncatesLongMessage(t *testing.T) {
	long := make([]byte, maxResultMessageLen+50)
	for i := range long {
		long[i] = 'x'
	}
	p := normalize("1", message.StatusError, string(long), "")
	if len(p.ToolMessage) != maxResultMessageLen {
		t.Fatalf("expected truncated message of length %d, got %d", maxResultMessageLen, len(p.ToolMessage))
	}
}

func TestNormalizeRejectsUnknownStatus(t *testing.T) {
	p := normalize("1", message.Status("bogus"), "", "")
	if p.ToolStatus != message.StatusError {
		t.Fatalf("expected unknown status to default to StatusError, got %v", p.ToolStatus)
	}
}
