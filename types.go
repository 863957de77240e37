package jimi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message roles. Tool-role messages answer a tool call from the
// immediately preceding assistant message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart is one element of a multi-part message body.
// Only text parts exist today; the Type tag leaves room for media parts.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextPart creates a text content part.
func TextPart(s string) ContentPart {
	return ContentPart{Type: "text", Text: s}
}

// Message is one entry of conversation history.
//
// Content is either a plain string or an ordered list of parts; on the
// wire the two forms are distinguished by JSON shape (string vs array).
// At most one of Content / Parts is populated.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"-"`
	Parts      []ContentPart `json:"-"`
	Reasoning  string        `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// messageWire mirrors Message with Content as raw JSON so the
// string-or-array shape survives a round trip bit-exactly.
type messageWire struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Reasoning  string          `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// MarshalJSON encodes Content as a string, or as a part list when Parts
// is set.
func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		Role:       m.Role,
		Reasoning:  m.Reasoning,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	var err error
	if len(m.Parts) > 0 {
		w.Content, err = json.Marshal(m.Parts)
	} else {
		w.Content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both content shapes.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Reasoning = w.Reasoning
	m.ToolCalls = w.ToolCalls
	m.ToolCallID = w.ToolCallID
	m.Name = w.Name
	m.Content = ""
	m.Parts = nil
	if len(w.Content) == 0 || bytes.Equal(w.Content, []byte("null")) {
		return nil
	}
	if w.Content[0] == '[' {
		return json.Unmarshal(w.Content, &m.Parts)
	}
	return json.Unmarshal(w.Content, &m.Content)
}

// Text returns the textual body of the message, joining parts when the
// multi-part form is in use.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// --- Message constructors ---

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

func ToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// ToolCall is one tool invocation requested by the LLM. Arguments is the
// raw string the model produced; it becomes strict JSON only after
// NormalizeArguments.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"` // always "function" on the wire
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its argument string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultKind discriminates the ToolResult variants.
type ToolResultKind string

const (
	// ToolOk is a successful execution.
	ToolOk ToolResultKind = "ok"
	// ToolError is a failed execution; the message is fed back to the
	// LLM so it may recover.
	ToolError ToolResultKind = "error"
	// ToolRejected means the user declined the action at the approval gate.
	ToolRejected ToolResultKind = "rejected"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Kind ToolResultKind `json:"kind"`
	// Output is the body fed back to the LLM on success.
	Output string `json:"output,omitempty"`
	// Brief is a short human-facing summary for the UI.
	Brief string `json:"brief,omitempty"`
	// Message and Detail describe an error.
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
}

// Ok creates a successful result.
func Ok(output, brief string) ToolResult {
	return ToolResult{Kind: ToolOk, Output: output, Brief: brief}
}

// Errorf creates an error result from a message and optional detail.
func Errorf(message, detail string) ToolResult {
	return ToolResult{Kind: ToolError, Message: message, Detail: detail}
}

// Rejected creates a rejected result.
func Rejected(reason string) ToolResult {
	return ToolResult{Kind: ToolRejected, Reason: reason}
}

// IsError reports whether the result is an error or a rejection.
func (r ToolResult) IsError() bool {
	return r.Kind == ToolError || r.Kind == ToolRejected
}

// ForLLM renders the text fed back to the model as the tool response.
func (r ToolResult) ForLLM() string {
	switch r.Kind {
	case ToolError:
		if r.Detail != "" {
			return "error: " + r.Message + "\n" + r.Detail
		}
		return "error: " + r.Message
	case ToolRejected:
		if r.Reason != "" {
			return "rejected by user: " + r.Reason
		}
		return "rejected by user"
	default:
		return r.Output
	}
}

// Usage is the token accounting of one LLM generation.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage into u.
func (u *Usage) Add(o Usage) {
	u.Prompt += o.Prompt
	u.Completion += o.Completion
	u.Total += o.Total
}
