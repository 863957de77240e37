// Package memory provides the remember / memory_search tools over a
// store.FactStore, giving the agent long-term memory across sessions.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/store"
)

// RememberTool saves a fact to the agent's long-term memory.
type RememberTool struct {
	facts store.FactStore
}

// NewRememberTool creates the remember tool.
func NewRememberTool(facts store.FactStore) *RememberTool {
	return &RememberTool{facts: facts}
}

func (t *RememberTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name: "remember",
		Description: "Save a fact to long-term memory. Use when the user states a lasting " +
			"preference, project convention, or decision worth recalling in later sessions.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"fact": {"type": "string", "description": "The fact to remember, one short sentence"},
				"category": {"type": "string", "description": "Category tag, e.g. preference, convention, decision"}
			},
			"required": ["fact"]
		}`),
	}
}

func (t *RememberTool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Fact     string `json:"fact"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	if strings.TrimSpace(params.Fact) == "" {
		return jimi.Errorf("fact is empty", "")
	}
	if params.Category == "" {
		params.Category = "general"
	}
	f, err := t.facts.UpsertFact(ctx, params.Fact, params.Category)
	if err != nil {
		return jimi.Errorf("failed to save fact", err.Error())
	}
	return jimi.Ok(fmt.Sprintf("Remembered (%s): %s", f.Category, f.Fact), "Fact saved")
}

// MemorySearchTool retrieves remembered facts.
type MemorySearchTool struct {
	facts store.FactStore
}

// NewMemorySearchTool creates the memory_search tool.
func NewMemorySearchTool(facts store.FactStore) *MemorySearchTool {
	return &MemorySearchTool{facts: facts}
}

func (t *MemorySearchTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "memory_search",
		Description: "Search long-term memory for previously remembered facts.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search terms; empty lists the most recent facts"},
				"limit": {"type": "integer", "description": "Max results (default 10)"}
			}
		}`),
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	if params.Limit <= 0 {
		params.Limit = 10
	}
	facts, err := t.facts.SearchFacts(ctx, params.Query, params.Limit)
	if err != nil {
		return jimi.Errorf("memory search failed", err.Error())
	}
	if len(facts) == 0 {
		return jimi.Ok("No matching facts in memory.", "0 facts")
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Fact)
	}
	return jimi.Ok(b.String(), fmt.Sprintf("%d facts", len(facts)))
}

var (
	_ jimi.Tool = (*RememberTool)(nil)
	_ jimi.Tool = (*MemorySearchTool)(nil)
)
