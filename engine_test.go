package jimi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// One assistant message with no tool calls: exactly one step, the
// history grows by the user input, a marker, and one assistant record.
func TestEngineTurnWithoutToolCalls(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("done"), usage: &Usage{Prompt: 10, Completion: 2, Total: 12}},
	}}
	rt := newTestRuntime(t, p)
	engine, bus := newTestEngine(t, rt, testAgent("main"))
	events := collectEvents(t, bus.Subscribe())

	if err := engine.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1", p.callCount())
	}

	h := engine.Store().History()
	last := h[len(h)-1]
	if last.Role != RoleAssistant || last.Content != "done" {
		t.Fatalf("last record: %+v", last)
	}
	if engine.Store().TokenCount() != 12 {
		t.Fatalf("token count %d", engine.Store().TokenCount())
	}

	waitFor(t, time.Second, func() bool {
		steps := 0
		for _, ev := range events() {
			if ev.Type == EventStepBegin {
				steps++
			}
		}
		return steps == 1
	}, "one step-begin event")
}

func TestEngineExecutesToolBatchThenFinishes(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{msg: assistantCalling("checking", call("c1", "echo", `{"text":"one"}`))},
		{msg: AssistantMessage("all good")},
	}}
	rt := newTestRuntime(t, p, &echoTool{name: "echo"})
	engine, _ := newTestEngine(t, rt, testAgent("main"))

	if err := engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	h := engine.Store().History()
	var toolMsg *Message
	for i := range h {
		if h[i].Role == RoleTool {
			toolMsg = &h[i]
		}
	}
	if toolMsg == nil || toolMsg.ToolCallID != "c1" || toolMsg.Content != "echo: one" {
		t.Fatalf("tool message: %+v", toolMsg)
	}
	if p.callCount() != 2 {
		t.Fatalf("provider calls = %d", p.callCount())
	}
}

// Tool-result messages land in history in the LLM-supplied order even
// when completion order differs.
func TestEngineToolBatchOrdering(t *testing.T) {
	calls := []ToolCall{
		call("c1", "slow", `{"text":"first"}`),
		call("c2", "fast", `{"text":"second"}`),
		call("c3", "fast", `{"text":"third"}`),
	}
	p := &fakeProvider{turns: []fakeTurn{
		{msg: assistantCalling("", calls...)},
		{msg: AssistantMessage("done")},
	}}
	rt := newTestRuntime(t, p,
		&echoTool{name: "slow", delay: 80 * time.Millisecond},
		&echoTool{name: "fast"},
	)
	engine, _ := newTestEngine(t, rt, testAgent("main"))
	if err := engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, m := range engine.Store().History() {
		if m.Role == RoleTool {
			ids = append(ids, m.ToolCallID)
		}
	}
	if strings.Join(ids, ",") != "c1,c2,c3" {
		t.Fatalf("tool results out of order: %v", ids)
	}
}

// Tools of one batch actually run concurrently.
func TestEngineToolBatchConcurrent(t *testing.T) {
	const n = 3
	barrier := make(chan struct{})
	started := make(chan struct{}, n)
	tools := make([]Tool, 0, n)
	var batch []ToolCall
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		tools = append(tools, &barrierTool{name: name, barrier: barrier, started: started})
		batch = append(batch, call("id-"+name, name, `{}`))
	}
	p := &fakeProvider{turns: []fakeTurn{
		{msg: assistantCalling("", batch...)},
		{msg: AssistantMessage("done")},
	}}
	rt := newTestRuntime(t, p, tools...)
	engine, _ := newTestEngine(t, rt, testAgent("main"))

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background(), "go") }()

	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d tools started concurrently", i, n)
		}
	}
	close(barrier)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}

func TestEngineProviderErrorFinishesGracefully(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{err: &ErrLLM{Provider: "fake", Message: "boom"}},
	}}
	rt := newTestRuntime(t, p)
	engine, _ := newTestEngine(t, rt, testAgent("main"))

	if err := engine.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("provider errors must terminate the turn cleanly, got %v", err)
	}
	h := engine.Store().History()
	last := h[len(h)-1]
	if last.Role != RoleAssistant || !strings.Contains(last.Content, "I hit an error") {
		t.Fatalf("graceful message missing: %+v", last)
	}
}

func TestEngineMaxSteps(t *testing.T) {
	// Provider always asks for another tool call: the loop must stop.
	p := &fakeProvider{}
	p.turns = make([]fakeTurn, 20)
	for i := range p.turns {
		p.turns[i] = fakeTurn{msg: assistantCalling("", call(NewID(), "echo", `{"text":"x"}`))}
	}
	rt := newTestRuntime(t, p, &echoTool{name: "echo"})
	rt.MaxSteps = 3
	engine, bus := newTestEngine(t, rt, testAgent("main"))
	events := collectEvents(t, bus.Subscribe())

	err := engine.Run(context.Background(), "loop forever")
	var maxErr *ErrMaxSteps
	if !errors.As(err, &maxErr) {
		t.Fatalf("want ErrMaxSteps, got %v", err)
	}

	waitFor(t, time.Second, func() bool {
		for _, ev := range events() {
			if ev.Type == EventStepInterrupted {
				return true
			}
		}
		return false
	}, "step-interrupted event")
}

func TestEngineDroppedInvalidCallsEndTurn(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{msg: assistantCalling("bad batch", call("", "", `garbage`))},
	}}
	rt := newTestRuntime(t, p, &echoTool{name: "echo"})
	engine, _ := newTestEngine(t, rt, testAgent("main"))
	if err := engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.callCount())
	}
}

func TestEngineNoProviderFails(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.Provider = nil
	engine, _ := newTestEngine(t, rt, testAgent("main"))
	err := engine.Run(context.Background(), "hi")
	var cfgErr *ErrConfig
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ErrConfig, got %v", err)
	}
}

// barrierTool blocks until all concurrent calls have started. If the
// batch ran sequentially this would deadlock (caught by timeout).
type barrierTool struct {
	name    string
	barrier chan struct{}
	started chan struct{}
}

func (b *barrierTool) Definition() ToolDefinition {
	return ToolDefinition{Name: b.name, Description: "barrier tool"}
}

func (b *barrierTool) Execute(_ context.Context, _ json.RawMessage) ToolResult {
	b.started <- struct{}{}
	<-b.barrier
	return Ok("done from "+b.name, "")
}
