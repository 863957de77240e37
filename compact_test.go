package jimi

import (
	"context"
	"strings"
	"testing"
)

func longHistory(n int) []Message {
	var h []Message
	for i := 0; i < n; i++ {
		h = append(h, UserMessage(strings.Repeat("question text ", 50)))
		h = append(h, AssistantMessage(strings.Repeat("answer text ", 50)))
	}
	return h
}

func TestCompactorProducesSummaryPairPlusTail(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("SUMMARY: the user asked many questions")},
	}}
	c := NewCompactor(p)

	history := longHistory(20)
	out, err := c.Compact(context.Background(), history, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) >= len(history) {
		t.Fatalf("compaction did not shrink: %d -> %d", len(history), len(out))
	}
	if out[0].Role != RoleUser || !strings.Contains(out[0].Content, "compacted") {
		t.Fatalf("out[0] = %+v", out[0])
	}
	if out[1].Role != RoleAssistant || !strings.Contains(out[1].Content, "SUMMARY") {
		t.Fatalf("out[1] = %+v", out[1])
	}
	// The tail is verbatim from the original.
	tail := out[2:]
	orig := history[len(history)-len(tail):]
	for i := range tail {
		if tail[i].Text() != orig[i].Text() {
			t.Fatalf("tail[%d] differs from original", i)
		}
	}
}

func TestCompactorShortHistoryUntouched(t *testing.T) {
	p := &fakeProvider{}
	c := NewCompactor(p)
	history := []Message{UserMessage("hi"), AssistantMessage("hello")}
	out, err := c.Compact(context.Background(), history, 100_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("short history rewritten: %+v", out)
	}
	if p.callCount() != 0 {
		t.Fatal("no summarization call expected")
	}
}

func TestCompactorFailurePropagates(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{{err: &ErrLLM{Provider: "fake", Message: "down"}}}}
	c := NewCompactor(p)
	_, err := c.Compact(context.Background(), longHistory(20), 1_000)
	if err == nil {
		t.Fatal("want error")
	}
}

// Engine-level trigger: over-budget token count compacts, reverts to
// checkpoint 0 and appends the replacement; events bracket the pass.
func TestEngineCompactionTrigger(t *testing.T) {
	summary := "SUMMARY: prior work"
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("earlier answer")}, // first turn
		{msg: AssistantMessage(summary)},          // summarization call
		{msg: AssistantMessage("fresh answer")},   // the second turn's step
	}}
	rt := newTestRuntime(t, p)
	rt.MaxContextTokens = ReservedTokens + 100 // budget = 100 tokens
	engine, bus := newTestEngine(t, rt, testAgent("main"))
	events := collectEvents(t, bus.Subscribe())

	// First turn establishes checkpoint 0 at the top of the file.
	if err := engine.Run(context.Background(), "start"); err != nil {
		t.Fatal(err)
	}
	// Grow the history past the budget.
	for _, m := range longHistory(10) {
		if err := engine.Store().Append(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := engine.Store().UpdateTokenCount(5_000); err != nil {
		t.Fatal(err)
	}

	if err := engine.Run(context.Background(), "continue"); err != nil {
		t.Fatal(err)
	}

	h := engine.Store().History()
	found := false
	for _, m := range h {
		if strings.Contains(m.Text(), "SUMMARY: prior work") {
			found = true
		}
	}
	if !found {
		t.Fatalf("summary not in history: %s", historyRoles(h))
	}
	if len(h) > 10 {
		t.Fatalf("history not shrunk: %d messages", len(h))
	}

	var begin, end bool
	for _, ev := range events() {
		switch ev.Type {
		case EventCompactionBegin:
			begin = true
		case EventCompactionEnd:
			end = true
		}
	}
	if !begin || !end {
		t.Fatalf("compaction events missing: begin=%v end=%v", begin, end)
	}
}

// A failing summarization leaves history intact and still emits
// compaction-end.
func TestEngineCompactionFailureKeepsHistory(t *testing.T) {
	p := &fakeProvider{turns: []fakeTurn{
		{msg: AssistantMessage("earlier answer")},
		{err: &ErrLLM{Provider: "fake", Message: "down"}}, // summarization fails
		{msg: AssistantMessage("answer anyway")},          // the step proceeds
	}}
	rt := newTestRuntime(t, p)
	rt.MaxContextTokens = ReservedTokens + 100
	engine, bus := newTestEngine(t, rt, testAgent("main"))
	events := collectEvents(t, bus.Subscribe())

	if err := engine.Run(context.Background(), "start"); err != nil {
		t.Fatal(err)
	}
	seed := longHistory(10)
	for _, m := range seed {
		engine.Store().Append(m)
	}
	engine.Store().UpdateTokenCount(5_000)

	if err := engine.Run(context.Background(), "continue"); err != nil {
		t.Fatal(err)
	}
	h := engine.Store().History()
	if len(h) < len(seed) {
		t.Fatalf("history lost on failed compaction: %d < %d", len(h), len(seed))
	}
	for _, ev := range events() {
		if ev.Type == EventCompactionEnd {
			return
		}
	}
	t.Fatal("compaction-end not emitted on failure")
}
