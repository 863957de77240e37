package jimi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func agentWithSub(longAnswer string) (*AgentConfig, *fakeProvider) {
	sub := &AgentConfig{Name: "researcher", SystemPrompt: "You research."}
	parent := &AgentConfig{
		Name:         "main",
		SystemPrompt: "You are the main agent.",
		Subagents:    map[string]*AgentConfig{"researcher": sub},
	}
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage(longAnswer)},
	}}
	return parent, p
}

func longText() string {
	return strings.Repeat("The build failed because of a missing dependency. ", 10)
}

func runTask(t *testing.T, tool *TaskTool, args string) ToolResult {
	t.Helper()
	return tool.Execute(context.Background(), json.RawMessage(args))
}

func TestTaskRunsSubagentAndReturnsFinalText(t *testing.T) {
	parent, p := agentWithSub(longText())
	rt := newTestRuntime(t, p)
	store, err := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	bus := NewWire()
	defer bus.Close()

	tool := NewTaskTool(parent, rt, bus, store)
	res := runTask(t, tool, `{"description":"research","subagent_name":"researcher","prompt":"find the bug"}`)
	if res.Kind != ToolOk {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Output, "build failed") {
		t.Fatalf("output %q", res.Output)
	}
	if res.Brief != "Subagent task completed" {
		t.Fatalf("brief %q", res.Brief)
	}

	// The child history landed in a derived _sub_ file.
	subPath := strings.TrimSuffix(store.Path(), ".jsonl") + "_sub_1.jsonl"
	if _, err := os.Stat(subPath); err != nil {
		t.Fatalf("child history missing at %s: %v", subPath, err)
	}
}

func TestTaskUnknownSubagent(t *testing.T) {
	parent, p := agentWithSub("answer")
	rt := newTestRuntime(t, p)
	store, _ := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	defer store.Close()
	bus := NewWire()
	defer bus.Close()

	tool := NewTaskTool(parent, rt, bus, store)
	res := runTask(t, tool, `{"description":"x","subagent_name":"nope","prompt":"y"}`)
	if res.Kind != ToolError || !strings.Contains(res.Message, `unknown subagent "nope"`) {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Message, "researcher") {
		t.Fatalf("declared subagents not listed: %q", res.Message)
	}
}

// A short first answer triggers exactly one continuation prompt.
func TestTaskShortReplyContinuation(t *testing.T) {
	sub := &AgentConfig{Name: "helper", SystemPrompt: "Help."}
	parent := &AgentConfig{
		Name: "main", SystemPrompt: "Main.",
		Subagents: map[string]*AgentConfig{"helper": sub},
	}
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("ok")}, // too short
		{msg: AssistantMessage(longText())},
	}}
	rt := newTestRuntime(t, p)
	store, _ := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	defer store.Close()
	bus := NewWire()
	defer bus.Close()

	tool := NewTaskTool(parent, rt, bus, store)
	res := runTask(t, tool, `{"description":"d","subagent_name":"helper","prompt":"p"}`)
	if res.Kind != ToolOk {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Output, "build failed") {
		t.Fatalf("continuation answer not used: %q", res.Output)
	}
	if p.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.callCount())
	}
	// The continuation prompt reached the child as a user message.
	found := false
	p.mu.Lock()
	for _, req := range p.reqs {
		for _, m := range req.History {
			if m.Role == RoleUser && strings.Contains(m.Content, "more comprehensively") {
				found = true
			}
		}
	}
	p.mu.Unlock()
	if !found {
		t.Fatal("continuation prompt not sent")
	}
}

// A still-short answer after the continuation is returned as-is.
func TestTaskShortReplyReturnedAfterRetry(t *testing.T) {
	sub := &AgentConfig{Name: "helper", SystemPrompt: "Help."}
	parent := &AgentConfig{Name: "main", SystemPrompt: "Main.",
		Subagents: map[string]*AgentConfig{"helper": sub}}
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("ok")},
		{msg: AssistantMessage("still ok")},
	}}
	rt := newTestRuntime(t, p)
	store, _ := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	defer store.Close()
	bus := NewWire()
	defer bus.Close()

	tool := NewTaskTool(parent, rt, bus, store)
	res := runTask(t, tool, `{"description":"d","subagent_name":"helper","prompt":"p"}`)
	if res.Kind != ToolOk || res.Output != "still ok" {
		t.Fatalf("got %+v", res)
	}
}

func TestTaskChildPathsAllocateSequentially(t *testing.T) {
	parent, _ := agentWithSub(longText())
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage(longText())},
		{msg: AssistantMessage(longText())},
	}}
	rt := newTestRuntime(t, p)
	store, _ := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	defer store.Close()
	bus := NewWire()
	defer bus.Close()

	tool := NewTaskTool(parent, rt, bus, store)
	runTask(t, tool, `{"description":"a","subagent_name":"researcher","prompt":"one"}`)
	runTask(t, tool, `{"description":"b","subagent_name":"researcher","prompt":"two"}`)

	base := strings.TrimSuffix(store.Path(), ".jsonl")
	for _, suffix := range []string{"_sub_1.jsonl", "_sub_2.jsonl"} {
		if _, err := os.Stat(base + suffix); err != nil {
			t.Fatalf("missing %s: %v", suffix, err)
		}
	}
}
