// Package registry holds the catalog of tools the LLM may call and
// dispatches incoming tool-call content parts to them, schema-validating
// arguments at the boundary and normalizing results before they reach
// History. Generalized from the teacher's per-feature *ToolManager split
// (internal/tool/*) into a single table-lookup dispatcher, per the
// capability-interface design note in the spec this module implements.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/message"
)

const maxResultMessageLen = 500

// ToolSpec describes one tool to the LLM Facade.
type ToolSpec struct {
	Name            string
	Description     string
	ParameterSchema any
}

// Tool is the capability interface every registered tool implements.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() any
	Execute(ctx context.Context, rawArguments json.RawMessage) (message.ContentPart, error)
}

// Registry is a name -> Tool table. It is safe for concurrent reads once
// registration is complete; Register itself is not meant to race Dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting a duplicate name.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return errors.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Catalog returns the ordered ToolSpecs for the LLM Facade.
func (r *Registry) Catalog() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, ToolSpec{
			Name:            t.Name(),
			Description:     t.Description(),
			ParameterSchema: t.ParameterSchema(),
		})
	}
	return specs
}

// Names returns the set of registered tool names.
func (r *Registry) Names() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.tools))
	for name := range r.tools {
		out[name] = struct{}{}
	}
	return out
}

// Dispatch executes one assembled ToolCall content part and returns a
// normalized ToolResult content part. It never returns a Go error for
// tool-level failures: SchemaValidation/UnknownTool/ToolExecutionError all
// surface as a ToolResult the model can see and recover from, per the
// error-handling design this registry implements.
func (r *Registry) Dispatch(ctx context.Context, call message.ContentPart) message.ContentPart {
	r.mu.RLock()
	t, ok := r.tools[call.ToolName]
	r.mu.RUnlock()
	if !ok {
		return normalize(call.ToolCallID, message.StatusError, "unknown tool: "+call.ToolName, "")
	}

	raw := json.RawMessage(call.ToolArgsJSON)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return normalize(call.ToolCallID, message.StatusError, "invalid arguments: not valid JSON", "")
	}
	if requiresFields(t.ParameterSchema()) && decodesEmpty(raw) {
		return normalize(call.ToolCallID, message.StatusError, "invalid arguments: missing required fields", "")
	}

	part, err := t.Execute(ctx, raw)
	if err != nil {
		return normalize(call.ToolCallID, message.StatusError, err.Error(), "")
	}
	part.ToolResultCallID = call.ToolCallID
	return normalize(part.ToolResultCallID, part.ToolStatus, part.ToolMessage, part.ToolOutput)
}

func normalize(callID string, status message.Status, msg, output string) message.ContentPart {
	switch status {
	case message.StatusOK, message.StatusError, message.StatusRejected:
	default:
		status = message.StatusError
	}
	if len(msg) > maxResultMessageLen {
		msg = msg[:maxResultMessageLen-len("…")] + "…"
	}
	return message.ToolResultPart(callID, status, msg, output)
}

// decodesEmpty reports whether raw decodes to an empty JSON object, used to
// reject arguments that decode to no fields when the schema requires some.
func decodesEmpty(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false // not an object at all; let the tool's own decode fail
	}
	return len(m) == 0
}

// requiresFields reports whether schema has a RequiredFields() method that
// returns a non-empty list. Tools built with internal/toolschema satisfy
// this; a schema value without that method (including a bare
// *jsonschema.Schema) is treated as requiring no fields.
func requiresFields(schema any) bool {
	type requiredLister interface {
		RequiredFields() []string
	}
	if rl, ok := schema.(requiredLister); ok {
		return len(rl.RequiredFields()) > 0
	}
	return false
}
