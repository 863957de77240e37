package jimi

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// AgentConfig is a named agent: a system-prompt template, a whitelist
// of tool names, and the subagents it may delegate to. Immutable once
// loaded; safe to share across sessions.
type AgentConfig struct {
	Name         string
	SystemPrompt string
	AllowedTools []string
	Subagents    map[string]*AgentConfig
}

// ToolFactory builds a fresh tool registry for an engine. Child engines
// are built with includeSubagentTools=false so Task/AsyncTask providers
// do not nest indefinitely.
type ToolFactory func(rt *Runtime, bus *Wire, includeSubagentTools bool) (*Registry, error)

// Runtime is the per-session bundle of shared services: the provider,
// the approval gate, the workspace, limits, and the tool factory. One
// Runtime lives as long as one session.
type Runtime struct {
	Provider ChatProvider
	Approval *Approval
	WorkDir  string

	// MaxContextTokens is the model context size the compaction check
	// budgets against.
	MaxContextTokens int
	// MaxSteps bounds one turn; 0 means DefaultMaxSteps.
	MaxSteps int

	Tools  ToolFactory
	Logger *slog.Logger
	Tracer Tracer

	// vars are the builtin prompt variables captured at construction.
	vars map[string]string
}

// DefaultMaxSteps bounds a turn when the runtime does not say otherwise.
const DefaultMaxSteps = 40

// DefaultMaxContextTokens is used when the runtime does not carry a
// model context size.
const DefaultMaxContextTokens = 200_000

// NewRuntime captures the builtin prompt variables (now, workdir,
// workdir listing, AGENTS.md) and applies defaults.
func NewRuntime(rt Runtime) *Runtime {
	r := rt
	if r.Logger == nil {
		r.Logger = nopLogger
	}
	if r.MaxSteps <= 0 {
		r.MaxSteps = DefaultMaxSteps
	}
	if r.MaxContextTokens <= 0 {
		r.MaxContextTokens = DefaultMaxContextTokens
	}
	r.vars = builtinVars(r.WorkDir)
	return &r
}

// builtinVars computes the prompt variables available to agent
// system-prompt templates.
func builtinVars(workDir string) map[string]string {
	vars := map[string]string{
		"now":     time.Now().Format(time.RFC1123),
		"workdir": workDir,
	}
	vars["workdir_listing"] = workdirListing(workDir)
	if workDir != "" {
		if b, err := os.ReadFile(filepath.Join(workDir, "AGENTS.md")); err == nil {
			vars["agents_md"] = string(b)
		} else {
			vars["agents_md"] = ""
		}
	} else {
		vars["agents_md"] = ""
	}
	return vars
}

// workdirListing renders the top-level entries of the workspace, one
// per line, directories suffixed with a slash.
func workdirListing(workDir string) string {
	if workDir == "" {
		return ""
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() {
			n += "/"
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

// ExpandPrompt substitutes {{name}} builtin variables into a
// system-prompt template. Unknown variables are left in place.
func (rt *Runtime) ExpandPrompt(tmpl string) string {
	out := tmpl
	for k, v := range rt.vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// ResolveSubagent looks up a subagent declared by parent.
func (a *AgentConfig) ResolveSubagent(name string) (*AgentConfig, bool) {
	sub, ok := a.Subagents[name]
	return sub, ok
}

// SubagentNames returns the declared subagent names, sorted.
func (a *AgentConfig) SubagentNames() []string {
	names := make([]string, 0, len(a.Subagents))
	for n := range a.Subagents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate rejects configs a session cannot start with.
func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return &ErrConfig{Reason: "agent has no name"}
	}
	if a.SystemPrompt == "" {
		return &ErrConfig{Reason: "agent " + a.Name + " has no system prompt"}
	}
	for name, sub := range a.Subagents {
		if sub == nil {
			return &ErrConfig{Reason: "agent " + a.Name + ": subagent " + name + " is empty"}
		}
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}
