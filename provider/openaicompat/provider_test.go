package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jimi "github.com/jimihq/jimi"
)

func TestBuildBody(t *testing.T) {
	req := jimi.GenerateRequest{
		SystemPrompt: "You are a test.",
		History: []jimi.Message{
			jimi.UserMessage("hi"),
			{
				Role:    jimi.RoleAssistant,
				Content: "running",
				ToolCalls: []jimi.ToolCall{{
					ID: "c1", Type: "function",
					Function: jimi.FunctionCall{Name: "Bash", Arguments: `{"command":"ls"}`},
				}},
			},
			jimi.ToolMessage("c1", "Bash", "file.txt"),
		},
		Tools: []jimi.ToolDefinition{{Name: "Bash", Description: "run a command"}},
	}
	body := BuildBody(req, "test-model", WithTemperature(0.2), WithMaxTokens(100))

	if body.Model != "test-model" || *body.Temperature != 0.2 || body.MaxTokens != 100 {
		t.Fatalf("body opts: %+v", body)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("messages: %d", len(body.Messages))
	}
	if body.Messages[0].Role != "system" {
		t.Fatalf("first message %+v", body.Messages[0])
	}
	asst := body.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Function.Name != "Bash" {
		t.Fatalf("assistant tool calls: %+v", asst)
	}
	toolMsg := body.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "c1" {
		t.Fatalf("tool message: %+v", toolMsg)
	}
	if len(body.Tools) != 1 || body.Tools[0].Type != "function" {
		t.Fatalf("tools: %+v", body.Tools)
	}
	if string(body.Tools[0].Function.Parameters) != `{"type":"object"}` {
		t.Fatalf("empty schema not defaulted: %s", body.Tools[0].Function.Parameters)
	}
}

func TestProviderNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key123" {
			t.Errorf("auth %q", got)
		}
		var body ChatRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Stream {
			t.Error("stream requested on non-streaming provider")
		}
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: &ChoiceMessage{
				Content: "hello back",
				ToolCalls: []ToolCallRequest{{
					ID: "c9", Type: "function",
					Function: FunctionCall{Name: "echo", Arguments: `{"text":"x"}`},
				}},
			}}},
			Usage: &Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		})
	}))
	defer srv.Close()

	p := NewProvider("key123", "m", srv.URL, WithStreaming(false))
	res, err := p.Generate(context.Background(), jimi.GenerateRequest{
		History: []jimi.Message{jimi.UserMessage("hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Content != "hello back" || len(res.Message.ToolCalls) != 1 {
		t.Fatalf("%+v", res.Message)
	}
	if res.Usage == nil || res.Usage.Total != 10 {
		t.Fatalf("usage %+v", res.Usage)
	}
}

func TestProviderStreaming(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"reasoning":"thinking..."}}]}`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"echo","arguments":"{\"te"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"xt\":\"y\"}"}}]}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	}, "\n\n") + "\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Error("streaming options not requested")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	var deltas []string
	p := NewProvider("", "m", srv.URL)
	res, err := p.Generate(context.Background(), jimi.GenerateRequest{
		History: []jimi.Message{jimi.UserMessage("hi")},
		Deltas: func(kind jimi.DeltaKind, text string) {
			deltas = append(deltas, string(kind)+":"+text)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Content != "Hello" {
		t.Fatalf("content %q", res.Message.Content)
	}
	if res.Message.Reasoning != "thinking..." {
		t.Fatalf("reasoning %q", res.Message.Reasoning)
	}
	if len(res.Message.ToolCalls) != 1 ||
		res.Message.ToolCalls[0].Function.Arguments != `{"text":"y"}` {
		t.Fatalf("tool calls %+v", res.Message.ToolCalls)
	}
	if res.Usage == nil || res.Usage.Total != 7 {
		t.Fatalf("usage %+v", res.Usage)
	}
	want := []string{"reasoning:thinking...", "content:Hel", "content:lo"}
	if strings.Join(deltas, "|") != strings.Join(want, "|") {
		t.Fatalf("deltas %v", deltas)
	}
}

func TestProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	_, err := p.Generate(context.Background(), jimi.GenerateRequest{})
	var httpErr *jimi.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("got %v", err)
	}
	if httpErr.Status != 429 || !strings.Contains(httpErr.Body, "slow down") {
		t.Fatalf("%+v", httpErr)
	}
	if httpErr.RetryAfter.Seconds() != 7 {
		t.Fatalf("RetryAfter %v", httpErr.RetryAfter)
	}
}
