package jimi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// maxParallelTools caps the goroutines executing one tool-call batch.
const maxParallelTools = 10

// Engine drives the reason → tool-call → resume loop of one agent. It
// exclusively owns its ContextStore, Wire, and Registry; subagent
// engines it spawns own their own.
type Engine struct {
	agent     *AgentConfig
	rt        *Runtime
	store     *ContextStore
	bus       *Wire
	registry  *Registry
	compactor *Compactor
	sub       bool
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// EngineSub marks the engine as a subagent; step events carry the flag.
func EngineSub(on bool) EngineOption {
	return func(e *Engine) { e.sub = on }
}

// EngineCompactor overrides the default compactor.
func EngineCompactor(c *Compactor) EngineOption {
	return func(e *Engine) { e.compactor = c }
}

// NewEngine assembles an engine from its collaborators.
func NewEngine(agent *AgentConfig, rt *Runtime, store *ContextStore, bus *Wire, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		agent:    agent,
		rt:       rt,
		store:    store,
		bus:      bus,
		registry: registry,
		logger:   rt.Logger,
	}
	for _, o := range opts {
		o(e)
	}
	if e.compactor == nil && rt.Provider != nil {
		e.compactor = NewCompactor(rt.Provider, CompactorLogger(e.logger))
	}
	return e
}

// Bus returns the engine's Wire.
func (e *Engine) Bus() *Wire { return e.bus }

// Store returns the engine's ContextStore.
func (e *Engine) Store() *ContextStore { return e.store }

// Run processes one user input to completion: checkpoint, append the
// input, then loop steps until the LLM stops calling tools or a limit
// is hit. Any uncaught error publishes a step-interrupted event and
// propagates.
func (e *Engine) Run(ctx context.Context, userInput string) error {
	if e.rt.Provider == nil {
		return &ErrConfig{Reason: "no chat provider configured"}
	}
	if _, err := e.store.Checkpoint(false); err != nil {
		return e.interrupted(err)
	}
	if err := e.store.Append(UserMessage(userInput)); err != nil {
		return e.interrupted(err)
	}

	maxSteps := e.rt.MaxSteps
	for step := 1; ; step++ {
		if step > maxSteps {
			return e.interrupted(&ErrMaxSteps{Steps: maxSteps})
		}
		if err := ctx.Err(); err != nil {
			return e.interrupted(err)
		}
		e.bus.Publish(Event{Type: EventStepBegin, Step: step, Sub: e.sub, AgentName: e.agent.Name})

		if err := e.maybeCompact(ctx); err != nil {
			return e.interrupted(err)
		}

		if _, err := e.store.Checkpoint(true); err != nil {
			return e.interrupted(err)
		}
		finished, err := e.step(ctx)
		if err != nil {
			return e.interrupted(err)
		}
		if finished {
			return nil
		}
	}
}

// interrupted publishes the step-interrupted event and passes err through.
func (e *Engine) interrupted(err error) error {
	e.bus.Publish(Event{Type: EventStepInterrupted, Sub: e.sub, AgentName: e.agent.Name})
	return err
}

// maybeCompact rewrites history when the token counter nears the model
// budget. A failed summarization leaves history intact and the turn
// proceeds; a storage failure while rewriting aborts the turn. The
// compaction-end event is published regardless.
func (e *Engine) maybeCompact(ctx context.Context) error {
	if e.compactor == nil {
		return nil
	}
	budget := e.rt.MaxContextTokens - ReservedTokens
	if e.store.TokenCount() <= budget {
		return nil
	}
	e.bus.Publish(Event{Type: EventCompactionBegin})
	defer e.bus.Publish(Event{Type: EventCompactionEnd})

	replacement, err := e.compactor.Compact(ctx, e.store.History(), budget)
	if err != nil {
		e.logger.Warn("compaction failed, history kept", "agent", e.agent.Name, "error", err)
		return nil
	}
	if err := e.store.RevertTo(0); err != nil {
		return err
	}
	if err := e.store.Append(replacement...); err != nil {
		return err
	}
	estimate := 0
	for _, m := range replacement {
		estimate += len([]rune(m.Text())) / approxCharsPerToken
	}
	if err := e.store.UpdateTokenCount(estimate); err != nil {
		return err
	}
	e.logger.Info("history compacted",
		"agent", e.agent.Name, "messages", len(replacement), "estimated_tokens", estimate)
	return nil
}

// step performs one LLM call plus its tool batch. It reports finished
// when the assistant produced no tool calls or the provider failed
// gracefully.
func (e *Engine) step(ctx context.Context) (bool, error) {
	defs := e.registry.Schemas(e.agent.AllowedTools)
	sink := func(kind DeltaKind, text string) {
		e.bus.Publish(Event{Type: EventContentDelta, DeltaKind: kind, Text: text, AgentName: e.agent.Name})
	}

	res, err := e.rt.Provider.Generate(ctx, GenerateRequest{
		SystemPrompt: e.rt.ExpandPrompt(e.agent.SystemPrompt),
		History:      e.store.History(),
		Tools:        defs,
		Deltas:       sink,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		e.logger.Warn("provider error, finishing turn", "agent", e.agent.Name, "error", err)
		if aerr := e.store.Append(AssistantMessage("I hit an error: " + err.Error())); aerr != nil {
			return false, aerr
		}
		return true, nil
	}

	if res.Usage != nil {
		if err := e.store.UpdateTokenCount(res.Usage.Total); err != nil {
			return false, err
		}
		e.bus.Publish(Event{Type: EventTokenUsage, Usage: res.Usage})
	}

	msg := res.Message
	msg.Role = RoleAssistant
	if err := e.store.Append(msg); err != nil {
		return false, err
	}
	if len(msg.ToolCalls) == 0 {
		return true, nil
	}

	calls := e.registry.ValidateCalls(msg.ToolCalls)
	if len(calls) == 0 {
		return true, nil
	}

	results := e.executeBatch(ctx, calls)

	batch := make([]Message, 0, len(calls))
	for i, c := range calls {
		batch = append(batch, ToolMessage(c.ID, c.Function.Name, results[i].ForLLM()))
	}
	if err := e.store.Append(batch...); err != nil {
		return false, err
	}
	return false, nil
}

// executeBatch runs all tool calls of one assistant message
// concurrently through a bounded worker pool and returns results in the
// LLM-supplied order.
func (e *Engine) executeBatch(ctx context.Context, calls []ToolCall) []ToolResult {
	for i := range calls {
		c := calls[i]
		e.bus.Publish(Event{Type: EventToolCallBegin, ToolCall: &c, AgentName: e.agent.Name})
	}

	results := make([]ToolResult, len(calls))
	if len(calls) == 1 {
		results[0] = e.executeOne(ctx, calls[0])
		return results
	}

	type workItem struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	numWorkers := min(len(calls), maxParallelTools)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					results[w.idx] = Errorf(ctx.Err().Error(), "")
					continue
				}
				results[w.idx] = e.executeOne(ctx, w.tc)
			}
		}()
	}
	wg.Wait()
	return results
}

// executeOne runs a single call and publishes its result event.
func (e *Engine) executeOne(ctx context.Context, tc ToolCall) ToolResult {
	var span Span
	if e.rt.Tracer != nil {
		ctx, span = e.rt.Tracer.Start(ctx, "tool.execute",
			StringAttr("tool.name", tc.Function.Name),
			StringAttr("tool.call_id", tc.ID))
	}
	res := e.registry.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
	if span != nil {
		if res.IsError() {
			span.SetAttr(StringAttr("tool.status", string(res.Kind)))
		}
		span.End()
	}
	if res.IsError() {
		e.logger.Warn("tool failed", "agent", e.agent.Name, "tool", tc.Function.Name, "kind", string(res.Kind))
	}
	r := res
	e.bus.Publish(Event{Type: EventToolResult, ToolCallID: tc.ID, Result: &r, AgentName: e.agent.Name})
	return res
}

// LastAssistantText returns the text of the last assistant message in
// the store, looking past trailing tool messages. It returns "" when the
// history is empty or a user or system message comes after the last
// assistant message.
func (e *Engine) LastAssistantText() string {
	history := e.store.History()
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		switch m.Role {
		case RoleAssistant:
			return m.Text()
		case RoleTool:
			continue
		default:
			return ""
		}
	}
	return ""
}
