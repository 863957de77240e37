package jimi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeTurn is one scripted provider response.
type fakeTurn struct {
	msg   Message
	usage *Usage
	err   error
}

// fakeProvider returns scripted turns in order. When the script runs
// out it keeps answering with a plain "done" message so subagent
// continuation prompts never hang a test.
type fakeProvider struct {
	mu    sync.Mutex
	turns []fakeTurn
	calls int
	// reqs records every request for assertions.
	reqs []GenerateRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	i := p.calls
	p.calls++
	var turn fakeTurn
	if i < len(p.turns) {
		turn = p.turns[i]
	} else {
		turn = fakeTurn{msg: AssistantMessage("done")}
	}
	p.mu.Unlock()
	if turn.err != nil {
		return nil, turn.err
	}
	return &GenerateResult{Message: turn.msg, Usage: turn.usage}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// assistantCalling builds an assistant message with the given calls.
func assistantCalling(content string, calls ...ToolCall) Message {
	m := AssistantMessage(content)
	m.ToolCalls = calls
	return m
}

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

// echoTool returns its "text" argument, optionally after a delay.
type echoTool struct {
	name  string
	delay time.Duration
}

func (t *echoTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.name,
		Description: "echo the text argument",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func (t *echoTool) Execute(_ context.Context, args json.RawMessage) ToolResult {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid args", err.Error())
	}
	return Ok("echo: "+params.Text, "echoed")
}

// newTestRuntime builds a runtime over a fake provider with a tool
// factory registering the given tools on every engine.
func newTestRuntime(t *testing.T, p ChatProvider, tools ...Tool) *Runtime {
	t.Helper()
	rt := NewRuntime(Runtime{
		Provider: p,
		WorkDir:  t.TempDir(),
		MaxSteps: 10,
		Tools: func(rt *Runtime, bus *Wire, includeSubagentTools bool) (*Registry, error) {
			reg := NewRegistry(RegistryBus(bus), RegistryWorkdir(rt.WorkDir), RegistryApproval(rt.Approval))
			for _, tool := range tools {
				if err := reg.Register(tool); err != nil {
					return nil, err
				}
			}
			return reg, nil
		},
	})
	rt.Approval = nil
	return rt
}

// newTestEngine builds an engine plus its bus and store in a temp dir.
func newTestEngine(t *testing.T, rt *Runtime, agent *AgentConfig) (*Engine, *Wire) {
	t.Helper()
	store, err := NewContextStore(filepath.Join(t.TempDir(), "history.jsonl"))
	if err != nil {
		t.Fatalf("NewContextStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bus := NewWire()
	t.Cleanup(bus.Close)
	reg, err := rt.Tools(rt, bus, true)
	if err != nil {
		t.Fatalf("tool factory: %v", err)
	}
	return NewEngine(agent, rt, store, bus, reg), bus
}

func testAgent(name string) *AgentConfig {
	return &AgentConfig{
		Name:         name,
		SystemPrompt: "You are a test agent.",
	}
}

// testSyncMarker is a sentinel event type used internally by
// collectEvents to know when the background drain has caught up with
// everything published so far; it never appears in a caller's snapshot.
const testSyncMarker EventType = "__test_sync__"

// collectEvents drains a subscription in the background and returns a
// getter for the events seen so far. The getter publishes a sync
// marker and waits for it to come back through the same subscription
// before snapshotting, so it never races the background drain
// goroutine (delivery through Wire is asynchronous relative to
// Publish).
func collectEvents(t *testing.T, sub *Subscription) func() []Event {
	t.Helper()
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		sub.Close()
		<-done
	})
	return func() []Event {
		t.Helper()
		sub.w.Publish(Event{Type: testSyncMarker})
		deadline := time.Now().Add(5 * time.Second)
		for {
			mu.Lock()
			if len(events) > 0 && events[len(events)-1].Type == testSyncMarker {
				out := make([]Event, len(events)-1)
				copy(out, events[:len(events)-1])
				events = events[:len(events)-1]
				mu.Unlock()
				return out
			}
			mu.Unlock()
			if time.Now().After(deadline) {
				t.Fatalf("collectEvents: timed out waiting for events to drain")
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// historyRoles renders roles for compact assertions.
func historyRoles(history []Message) string {
	s := ""
	for i, m := range history {
		if i > 0 {
			s += " "
		}
		s += m.Role
	}
	return s
}
