package openaicompat

import (
	jimi "github.com/jimihq/jimi"
)

// Option mutates the outgoing request body.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) Option {
	return func(r *ChatRequest) { r.Stop = stop }
}

// BuildBody converts a jimi generation request into an OpenAI-format
// ChatRequest. The system prompt becomes the leading system message.
func BuildBody(req jimi.GenerateRequest, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.History {
		switch {
		case m.Role == jimi.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			msg := Message{Role: "assistant", ToolCalls: tcs}
			if text := m.Text(); text != "" {
				msg.Content = text
			}
			msgs = append(msgs, msg)

		case m.Role == jimi.RoleTool:
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})

		case len(m.Parts) > 0:
			blocks := make([]ContentBlock, 0, len(m.Parts))
			for _, p := range m.Parts {
				blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
			}
			msgs = append(msgs, Message{Role: m.Role, Content: blocks})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}

	body := ChatRequest{Model: model, Messages: msgs}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	for _, opt := range opts {
		opt(&body)
	}
	return body
}
