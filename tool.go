package jimi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDefinition is the JSON-Schema description of a tool sent to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Tool is one capability the LLM can invoke. Execute receives arguments
// that already passed normalization and schema validation; failures are
// reported through the ToolResult variants, not Go errors.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) ToolResult
}

// Capability marker interfaces. The registry injects the matching
// dependency at registration time.

// BusAware tools receive the session Wire to publish progress on.
type BusAware interface {
	AttachBus(w *Wire)
}

// WorkdirAware tools receive the session workspace directory.
type WorkdirAware interface {
	SetWorkdir(dir string)
}

// ApprovalAware tools receive the approval gate to consult before
// mutating actions.
type ApprovalAware interface {
	SetApproval(a *Approval)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// RegistryBus sets the Wire injected into BusAware tools.
func RegistryBus(w *Wire) RegistryOption {
	return func(r *Registry) { r.bus = w }
}

// RegistryWorkdir sets the workspace injected into WorkdirAware tools.
func RegistryWorkdir(dir string) RegistryOption {
	return func(r *Registry) { r.workdir = dir }
}

// RegistryApproval sets the gate injected into ApprovalAware tools.
func RegistryApproval(a *Approval) RegistryOption {
	return func(r *Registry) { r.approval = a }
}

// RegistryLogger sets the structured logger.
func RegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// Registry holds the tools of one engine and runs the execution
// pipeline: normalize arguments, locate the tool, validate against its
// schema, invoke the body, convert panics to error results.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	order    []string
	bus      *Wire
	workdir  string
	approval *Approval
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool, rejecting duplicate names, compiling its
// parameter schema and injecting declared capabilities.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[def.Name]; dup {
		return fmt.Errorf("duplicate tool name %q", def.Name)
	}

	params := def.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object"}`)
	}
	schema, err := jsonschema.CompileString(def.Name+".json", string(params))
	if err != nil {
		return fmt.Errorf("tool %q: invalid parameter schema: %w", def.Name, err)
	}

	if ba, ok := t.(BusAware); ok && r.bus != nil {
		ba.AttachBus(r.bus)
	}
	if wa, ok := t.(WorkdirAware); ok && r.workdir != "" {
		wa.SetWorkdir(r.workdir)
	}
	if aa, ok := t.(ApprovalAware); ok && r.approval != nil {
		aa.SetApproval(r.approval)
	}

	r.tools[def.Name] = t
	r.schemas[def.Name] = schema
	r.order = append(r.order, def.Name)
	return nil
}

// Schemas returns the definitions sent to the LLM, filtered by the
// allowed-name whitelist. A nil whitelist allows every tool.
func (r *Registry) Schemas(allowed []string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var allow map[string]struct{}
	if allowed != nil {
		allow = make(map[string]struct{}, len(allowed))
		for _, n := range allowed {
			allow[n] = struct{}{}
		}
	}
	var defs []ToolDefinition
	for _, name := range r.order {
		if allow != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs one tool call through the full pipeline and returns its
// result. Never returns a Go error: every failure mode is a ToolResult.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (result ToolResult) {
	norm := NormalizeArguments(rawArgs)

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown tool: "+name, "")
	}

	var parsed any
	if err := json.Unmarshal([]byte(norm), &parsed); err != nil {
		return Errorf("invalid arguments for "+name, err.Error())
	}
	if err := schema.Validate(parsed); err != nil {
		return Errorf("invalid arguments for "+name, err.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panic", "tool", name, "panic", fmt.Sprintf("%v", p))
			result = Errorf(fmt.Sprintf("tool %s panic: %v", name, p), "")
		}
	}()
	return tool.Execute(ctx, json.RawMessage(norm))
}

// ValidateCalls filters a tool-call batch from the LLM before
// execution: entries without an id or name are dropped, duplicate ids
// are dropped, and arguments that do not normalize to valid JSON drop
// the entry with a log. The surviving list is what gets executed.
func (r *Registry) ValidateCalls(calls []ToolCall) []ToolCall {
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.ID == "" || c.Function.Name == "" {
			r.logger.Warn("dropping tool call without id or name")
			continue
		}
		if _, dup := seen[c.ID]; dup {
			r.logger.Warn("dropping duplicate tool call", "id", c.ID, "tool", c.Function.Name)
			continue
		}
		norm := NormalizeArguments(c.Function.Arguments)
		if !json.Valid([]byte(norm)) {
			r.logger.Warn("dropping tool call with unparseable arguments",
				"id", c.ID, "tool", c.Function.Name)
			continue
		}
		seen[c.ID] = struct{}{}
		c.Function.Arguments = norm
		out = append(out, c)
	}
	return out
}
