package openaicompat

import (
	jimi "github.com/jimihq/jimi"
)

// ParseResponse converts an OpenAI-format ChatResponse into a jimi
// generation result. Content, reasoning, tool calls, and usage come
// from choices[0].
func ParseResponse(resp ChatResponse) *jimi.GenerateResult {
	out := &jimi.GenerateResult{}
	out.Message.Role = jimi.RoleAssistant

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			out.Message.Content = choice.Message.Content
			out.Message.Reasoning = choice.Message.reasoningText()
			out.Message.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
		}
	}

	if resp.Usage != nil {
		out.Usage = &jimi.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		}
		if out.Usage.Total == 0 {
			out.Usage.Total = out.Usage.Prompt + out.Usage.Completion
		}
	}
	return out
}

// ParseToolCalls converts tool call requests to jimi ToolCalls. The
// arguments string is passed through as-is; the core's normalizer owns
// repairing it.
func ParseToolCalls(tcs []ToolCallRequest) []jimi.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]jimi.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, jimi.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: jimi.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
