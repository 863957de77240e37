package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	jimi "github.com/jimihq/jimi"
)

// StreamSSE reads an SSE stream from body, feeding reasoning/content
// deltas into sink (when non-nil), and returns the fully accumulated
// response: content, reasoning, tool calls, and usage.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, sink jimi.DeltaSink) (*jimi.GenerateResult, error) {
	scanner := bufio.NewScanner(body)
	// Large buffer for big SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content, reasoning strings.Builder
	var usage *Usage

	// Tool calls stream incrementally: each chunk carries an index and
	// argument string fragments.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if rt := delta.reasoningText(); rt != "" {
			reasoning.WriteString(rt)
			if sink != nil {
				sink(jimi.DeltaReasoning, rt)
			}
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if sink != nil {
				sink(jimi.DeltaContent, delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := &jimi.GenerateResult{}
	out.Message.Role = jimi.RoleAssistant
	out.Message.Content = content.String()
	out.Message.Reasoning = reasoning.String()
	for _, tc := range toolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, jimi.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: jimi.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Args.String(),
			},
		})
	}
	if usage != nil {
		out.Usage = &jimi.Usage{
			Prompt:     usage.PromptTokens,
			Completion: usage.CompletionTokens,
			Total:      usage.TotalTokens,
		}
		if out.Usage.Total == 0 {
			out.Usage.Total = out.Usage.Prompt + out.Usage.Completion
		}
	}
	return out, nil
}
