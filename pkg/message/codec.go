package message

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wireContentPart is the on-disk shape of a ContentPart, discriminated by
// "type" per the history file format.
type wireContentPart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID       string        `json:"id,omitempty"`
	Function *wireFunction `json:"function,omitempty"`

	CallID  string `json:"call_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output,omitempty"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ErrUnknownContentPart is returned by UnmarshalContentPart when "type" does
// not match any known variant. UnmarshalMessage drops such parts and
// returns an error only when none of a record's parts decode.
var ErrUnknownContentPart = errors.New("unknown content part type")

// MarshalContentPart renders a ContentPart in its wire shape.
func MarshalContentPart(p ContentPart) ([]byte, error) {
	switch p.Type {
	case PartText:
		return json.Marshal(wireContentPart{Type: "text", Text: p.Text})
	case PartToolCall:
		return json.Marshal(wireContentPart{
			Type: "tool_call",
			ID:   p.ToolCallID,
			Function: &wireFunction{
				Name:      p.ToolName,
				Arguments: p.ToolArgsJSON,
			},
		})
	case PartToolResult:
		return json.Marshal(wireContentPart{
			Type:    "tool_result",
			CallID:  p.ToolResultCallID,
			Status:  string(p.ToolStatus),
			Message: p.ToolMessage,
			Output:  p.ToolOutput,
		})
	default:
		return nil, errors.Errorf("marshal content part: unknown type %q", p.Type)
	}
}

// UnmarshalContentPart parses one wire content-part object. Unknown "type"
// values return ErrUnknownContentPart so the caller can skip-with-diagnostic
// at the record level, matching the whole-record skip rule in §6.
func UnmarshalContentPart(raw json.RawMessage) (ContentPart, error) {
	var w wireContentPart
	if err := json.Unmarshal(raw, &w); err != nil {
		return ContentPart{}, errors.Wrap(err, "decode content part")
	}
	switch w.Type {
	case "text":
		return TextPart(w.Text), nil
	case "tool_call":
		name, args := "", ""
		if w.Function != nil {
			name, args = w.Function.Name, w.Function.Arguments
		}
		return ToolCallPart(w.ID, name, args), nil
	case "tool_result":
		return ToolResultPart(w.CallID, Status(w.Status), w.Message, w.Output), nil
	default:
		return ContentPart{}, errors.Wrapf(ErrUnknownContentPart, "type %q", w.Type)
	}
}

// wireMessage is the {"role":...,"content":[...]} record shape.
type wireMessage struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

// MarshalMessage renders a Message as a {"role","content"} JSON object.
func MarshalMessage(m Message) ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(m.Content))
	for _, p := range m.Content {
		raw, err := MarshalContentPart(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, raw)
	}
	return json.Marshal(wireMessage{Role: string(m.Role), Content: parts})
}

// UnmarshalMessage parses a {"role","content"} JSON object. Content parts
// with an unrecognized "type" are dropped with ErrUnknownContentPart
// surfaced to the caller only via the returned error if ALL parts are
// unrecognized; a message is otherwise best-effort reconstructed from the
// parts that did decode, since the record's role still identifies it.
func UnmarshalMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, errors.Wrap(err, "decode message record")
	}
	parts := make([]ContentPart, 0, len(w.Content))
	var lastErr error
	for _, rp := range w.Content {
		part, err := UnmarshalContentPart(rp)
		if err != nil {
			lastErr = err
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 && lastErr != nil {
		return Message{}, errors.Wrap(lastErr, "no decodable content part")
	}
	return Message{Role: Role(w.Role), Content: parts}, nil
}
