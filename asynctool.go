package jimi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AsyncTaskTool exposes the AsyncManager to the LLM: fire-and-forget
// and watch launches return immediately with the subagent id.
type AsyncTaskTool struct {
	agent *AgentConfig
	mgr   *AsyncManager
}

// NewAsyncTaskTool creates the AsyncTask tool for a parent engine.
func NewAsyncTaskTool(agent *AgentConfig, mgr *AsyncManager) *AsyncTaskTool {
	return &AsyncTaskTool{agent: agent, mgr: mgr}
}

func (t *AsyncTaskTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: "AsyncTask",
		Description: "Run a subagent in the background. fire_and_forget returns an id " +
			"immediately and the subagent runs to completion; watch streams until a regex " +
			"matches the subagent's tool output. Use the Task tool when you need to wait " +
			"for the result.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"subagent_name": {"type": "string", "description": "Name of a declared subagent"},
				"prompt": {"type": "string", "description": "Full task prompt for the subagent"},
				"mode": {"type": "string", "enum": ["fire_and_forget", "watch", "wait_complete"]},
				"timeout_seconds": {"type": "integer", "description": "Optional wall-clock limit"},
				"watch_target": {"type": "string", "description": "What to watch (watch mode)"},
				"trigger_pattern": {"type": "string", "description": "Regex over tool output lines (watch mode)"},
				"on_trigger": {"type": "string", "description": "Instruction for when the pattern fires"},
				"continue_after_trigger": {"type": "boolean", "description": "Keep running after the first trigger"}
			},
			"required": ["subagent_name", "prompt", "mode"]
		}`),
	}
}

func (t *AsyncTaskTool) Execute(_ context.Context, args json.RawMessage) ToolResult {
	var params struct {
		SubagentName         string `json:"subagent_name"`
		Prompt               string `json:"prompt"`
		Mode                 string `json:"mode"`
		TimeoutSeconds       int    `json:"timeout_seconds"`
		WatchTarget          string `json:"watch_target"`
		TriggerPattern       string `json:"trigger_pattern"`
		OnTrigger            string `json:"on_trigger"`
		ContinueAfterTrigger bool   `json:"continue_after_trigger"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid arguments", err.Error())
	}

	mode := AsyncMode(params.Mode)
	if mode == AsyncWaitComplete {
		return Errorf("wait_complete is not supported by AsyncTask; use the Task tool to run a subagent and wait for its result", "")
	}
	if mode != AsyncFireAndForget && mode != AsyncWatch {
		return Errorf(fmt.Sprintf("unknown mode %q", params.Mode), "")
	}

	sub, ok := t.agent.ResolveSubagent(params.SubagentName)
	if !ok {
		return Errorf(fmt.Sprintf("unknown subagent %q; declared: %s",
			params.SubagentName, strings.Join(t.agent.SubagentNames(), ", ")), "")
	}

	id, err := t.mgr.Start(AsyncSpec{
		Agent:                sub,
		Name:                 params.SubagentName,
		Prompt:               params.Prompt,
		Mode:                 mode,
		Timeout:              time.Duration(params.TimeoutSeconds) * time.Second,
		WatchTarget:          params.WatchTarget,
		TriggerPattern:       params.TriggerPattern,
		OnTrigger:            params.OnTrigger,
		ContinueAfterTrigger: params.ContinueAfterTrigger,
	})
	if err != nil {
		return Errorf("failed to start async subagent", err.Error())
	}

	out := fmt.Sprintf("Started async subagent %s (%s, mode=%s). It runs in the background; "+
		"its completion will be announced. Do not wait for it.", id, params.SubagentName, mode)
	return Ok(out, "Async subagent "+id+" started")
}

var _ Tool = (*AsyncTaskTool)(nil)
