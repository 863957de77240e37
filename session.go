package jimi

import (
	"context"
	"fmt"
)

// Session is one interactive agent session: the root engine, its bus,
// its context store, and the async subagent manager. The CLI constructs
// one Session per invocation and drives it with user inputs.
type Session struct {
	agent    *AgentConfig
	rt       *Runtime
	store    *ContextStore
	bus      *Wire
	registry *Registry
	engine   *Engine
	async    *AsyncManager
	guard    *InputGuard
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// SessionInputGuard installs a prompt-injection guard on user inputs.
func SessionInputGuard(g *InputGuard) SessionOption {
	return func(s *Session) { s.guard = g }
}

// NewSession builds the root engine for agent on the given history
// path, restores any persisted history, and wires the Task and
// AsyncTask dispatchers into the root registry.
func NewSession(agent *AgentConfig, rt *Runtime, historyPath string, opts ...SessionOption) (*Session, error) {
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if rt.Provider == nil {
		return nil, &ErrConfig{Reason: "no chat provider configured"}
	}
	if rt.Tools == nil {
		return nil, &ErrConfig{Reason: "no tool factory configured"}
	}

	bus := NewWire()
	if rt.Approval == nil {
		rt.Approval = NewApproval(bus, ApprovalLogger(rt.Logger))
	} else {
		rt.Approval.SetBus(bus)
	}

	store, err := NewContextStore(historyPath, ContextLogger(rt.Logger))
	if err != nil {
		bus.Close()
		return nil, err
	}
	if err := store.Restore(); err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	registry, err := rt.Tools(rt, bus, true)
	if err != nil {
		bus.Close()
		store.Close()
		return nil, fmt.Errorf("tool factory: %w", err)
	}

	async := NewAsyncManager(rt, bus, historyPath)
	if len(agent.Subagents) > 0 {
		if err := registry.Register(NewTaskTool(agent, rt, bus, store)); err != nil {
			return nil, err
		}
		if err := registry.Register(NewAsyncTaskTool(agent, async)); err != nil {
			return nil, err
		}
	}

	s := &Session{
		agent:    agent,
		rt:       rt,
		store:    store,
		bus:      bus,
		registry: registry,
		async:    async,
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = NewEngine(agent, rt, store, bus, registry)
	return s, nil
}

// Run processes one user input through the engine.
func (s *Session) Run(ctx context.Context, input string) error {
	if s.guard != nil {
		if err := s.guard.Check(input); err != nil {
			return err
		}
	}
	return s.engine.Run(ctx, input)
}

// Bus returns the session Wire for UI subscriptions.
func (s *Session) Bus() *Wire { return s.bus }

// Store returns the session context store.
func (s *Session) Store() *ContextStore { return s.store }

// Async returns the async subagent manager.
func (s *Session) Async() *AsyncManager { return s.async }

// Agent returns the root agent config.
func (s *Session) Agent() *AgentConfig { return s.agent }

// Reset reverts the conversation to checkpoint 0, discarding the whole
// session history while keeping the rotated file on disk.
func (s *Session) Reset() error {
	if s.store.NextCheckpointID() == 0 {
		return nil
	}
	return s.store.RevertTo(0)
}

// Compact forces a compaction pass regardless of the token budget.
func (s *Session) Compact(ctx context.Context) error {
	history := s.store.History()
	if len(history) == 0 {
		return nil
	}
	s.bus.Publish(Event{Type: EventCompactionBegin})
	defer s.bus.Publish(Event{Type: EventCompactionEnd})

	compactor := NewCompactor(s.rt.Provider, CompactorLogger(s.rt.Logger))
	replacement, err := compactor.Compact(ctx, history, 0)
	if err != nil {
		return err
	}
	if s.store.NextCheckpointID() > 0 {
		if err := s.store.RevertTo(0); err != nil {
			return err
		}
	}
	return s.store.Append(replacement...)
}

// Close shuts down the async manager, the store, and the bus.
func (s *Session) Close() {
	s.async.ShutdownAll()
	s.store.Close()
	s.bus.Close()
}
