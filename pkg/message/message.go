// Package message defines the immutable Message/ContentPart data model that
// flows between the LLM Facade, the Loop Driver and the Context Store.
package message

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Status is the outcome of a tool invocation.
type Status string

const (
	StatusOK       Status = "OK"
	StatusError    Status = "ERROR"
	StatusRejected Status = "REJECTED"
)

// PartType discriminates the ContentPart variants.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// ContentPart is a tagged union: exactly one of Text/ToolCall/ToolResult
// fields is meaningful, selected by Type. Once constructed a ContentPart is
// never mutated; construct a new one instead of editing fields in place.
type ContentPart struct {
	Type PartType

	// PartText
	Text string

	// PartToolCall
	ToolCallID   string
	ToolName     string
	ToolArgsJSON string // raw JSON object string, as emitted by the model

	// PartToolResult
	ToolResultCallID string
	ToolStatus       Status
	ToolMessage      string // short, human-facing
	ToolOutput       string // full, model-facing
}

// TextPart builds a PartText content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ToolCallPart builds a PartToolCall content part.
func ToolCallPart(id, name, argsJSON string) ContentPart {
	return ContentPart{Type: PartToolCall, ToolCallID: id, ToolName: name, ToolArgsJSON: argsJSON}
}

// ToolResultPart builds a PartToolResult content part.
func ToolResultPart(callID string, status Status, msg, output string) ContentPart {
	return ContentPart{
		Type:             PartToolResult,
		ToolResultCallID: callID,
		ToolStatus:       status,
		ToolMessage:      msg,
		ToolOutput:       output,
	}
}

// Message is immutable once constructed; the Context Store never rewrites
// one in place (invariant I1 depends on this).
type Message struct {
	Role    Role
	Content []ContentPart
}

// NewUserMessage builds a single-text-part user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// NewSystemMessage builds a single-text-part system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// NewAssistantMessage builds an assistant message from already-assembled parts.
func NewAssistantMessage(parts []ContentPart) Message {
	return Message{Role: RoleAssistant, Content: parts}
}

// NewToolResultMessage builds the tool-role message the driver appends after
// dispatching a batch of tool calls.
func NewToolResultMessage(parts []ContentPart) Message {
	return Message{Role: RoleTool, Content: parts}
}

// ToolCalls returns the ToolCall parts of the message, in emission order.
func (m Message) ToolCalls() []ContentPart {
	var out []ContentPart
	for _, p := range m.Content {
		if p.Type == PartToolCall {
			out = append(out, p)
		}
	}
	return out
}

// HasToolCalls reports whether the message contains at least one tool call.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Content {
		if p.Type == PartToolCall {
			return true
		}
	}
	return false
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}
