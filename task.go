package jimi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// minSubagentReply is the reply length under which the child gets one
// continuation prompt before its answer is returned as-is.
const minSubagentReply = 200

const continuationPrompt = "Your previous response was very short. Please " +
	"respond more comprehensively, including the concrete findings and " +
	"results of the task."

// TaskTool is the synchronous subagent dispatcher: it spawns a child
// engine with a fresh context store, runs the prompt to completion, and
// returns the child's final assistant text to the parent as the tool
// output.
type TaskTool struct {
	agent     *AgentConfig
	rt        *Runtime
	parentBus *Wire
	parent    *ContextStore
	logger    *slog.Logger

	mu sync.Mutex // serializes child history path allocation
}

// NewTaskTool creates the Task tool for a parent engine.
func NewTaskTool(agent *AgentConfig, rt *Runtime, parentBus *Wire, parent *ContextStore) *TaskTool {
	return &TaskTool{
		agent:     agent,
		rt:        rt,
		parentBus: parentBus,
		parent:    parent,
		logger:    rt.Logger,
	}
}

func (t *TaskTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "Task",
		Description: "Delegate a self-contained task to a subagent and wait for its result. " +
			"The subagent starts with a fresh context and returns its final answer.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"description": {"type": "string", "description": "Short human-readable description of the task"},
				"subagent_name": {"type": "string", "description": "Name of a declared subagent"},
				"prompt": {"type": "string", "description": "Full task prompt for the subagent"}
			},
			"required": ["description", "subagent_name", "prompt"]
		}`),
	}
}

func (t *TaskTool) Execute(ctx context.Context, args json.RawMessage) ToolResult {
	var params struct {
		Description  string `json:"description"`
		SubagentName string `json:"subagent_name"`
		Prompt       string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid arguments", err.Error())
	}

	sub, ok := t.agent.ResolveSubagent(params.SubagentName)
	if !ok {
		return Errorf(fmt.Sprintf("unknown subagent %q; declared: %s",
			params.SubagentName, strings.Join(t.agent.SubagentNames(), ", ")), "")
	}

	child, cleanup, err := t.spawnChild(sub)
	if err != nil {
		return Errorf("failed to start subagent", err.Error())
	}
	defer cleanup()

	t.logger.Info("sync subagent started",
		"subagent", params.SubagentName, "description", params.Description)

	runErr := child.Run(ctx, params.Prompt)
	text := finalAssistantText(child.Store())
	if text == "" {
		if runErr != nil {
			return Errorf("subagent did not run", runErr.Error())
		}
		return Errorf("subagent did not run", "")
	}

	if len(text) < minSubagentReply {
		if err := child.Run(ctx, continuationPrompt); err == nil {
			if longer := finalAssistantText(child.Store()); longer != "" {
				text = longer
			}
		}
	}
	return Ok(text, "Subagent task completed")
}

// spawnChild builds the child engine: fresh ContextStore on a derived
// history path, its own Wire with approval and human-input events
// forwarded to the parent bus, and a registry without recursive
// Task/AsyncTask providers.
func (t *TaskTool) spawnChild(sub *AgentConfig) (*Engine, func(), error) {
	path, err := t.allocChildHistoryPath()
	if err != nil {
		return nil, nil, err
	}
	store, err := NewContextStore(path, ContextLogger(t.logger))
	if err != nil {
		return nil, nil, err
	}

	childBus := NewWire()
	forward := childBus.Subscribe()
	go func() {
		for ev := range forward.C {
			switch ev.Type {
			case EventApprovalRequest, EventHumanInput:
				t.parentBus.Publish(ev)
			}
		}
	}()

	registry, err := t.rt.Tools(t.rt, childBus, false)
	if err != nil {
		forward.Close()
		childBus.Close()
		store.Close()
		return nil, nil, err
	}

	child := NewEngine(sub, t.rt, store, childBus, registry, EngineSub(true))
	cleanup := func() {
		forward.Close()
		childBus.Close()
		store.Close()
	}
	return child, cleanup, nil
}

// allocChildHistoryPath derives `<base>_sub_<i><ext>` from the parent
// history path, claiming the smallest free i by exclusive create.
func (t *TaskTool) allocChildHistoryPath() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := t.parent.Path()
	ext := filepath.Ext(parent)
	base := strings.TrimSuffix(parent, ext)
	for i := 1; i <= maxRotations; i++ {
		candidate := fmt.Sprintf("%s_sub_%d%s", base, i, ext)
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", err
		}
		f.Close()
		return candidate, nil
	}
	return "", fmt.Errorf("exhausted subagent history slots for %s", parent)
}

// finalAssistantText returns the text of the last history entry iff it
// is an assistant message.
func finalAssistantText(store *ContextStore) string {
	history := store.History()
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	if last.Role != RoleAssistant {
		return ""
	}
	return strings.TrimSpace(last.Text())
}

var _ Tool = (*TaskTool)(nil)
