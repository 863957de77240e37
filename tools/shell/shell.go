// Package shell provides the Bash tool: approval-gated shell execution
// in the workspace, either directly on the host or inside a Docker
// sandbox container.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	jimi "github.com/jimihq/jimi"
)

const (
	defaultTimeoutSecs = 30
	maxTimeoutSecs     = 300
	maxOutput          = 8000
)

// blockedFragments are substrings refused outright regardless of
// approval. Crude, but it stops the worst one-liners.
var blockedFragments = []string{"rm -rf /", "mkfs", "> /dev/", "dd if=/dev/"}

// Runner executes a command in a directory with a timeout.
type Runner interface {
	Run(ctx context.Context, command, dir string, timeout time.Duration) (string, error)
}

// Tool executes shell commands in the workspace after approval.
type Tool struct {
	workdir  string
	approval *jimi.Approval
	runner   Runner
}

// Option configures the Bash tool.
type Option func(*Tool)

// WithRunner replaces the default host runner (e.g. with the Docker
// sandbox from this package).
func WithRunner(r Runner) Option {
	return func(t *Tool) { t.runner = r }
}

// New creates the Bash tool running commands on the host.
func New(opts ...Option) *Tool {
	t := &Tool{runner: LocalRunner{}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetWorkdir implements jimi.WorkdirAware.
func (t *Tool) SetWorkdir(dir string) { t.workdir = dir }

// SetApproval implements jimi.ApprovalAware.
func (t *Tool) SetApproval(a *jimi.Approval) { t.approval = a }

func (t *Tool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "Bash",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to execute"},
				"timeout": {"type": "integer", "description": "Timeout in seconds (default 30, max 300)"}
			},
			"required": ["command"]
		}`),
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	if strings.TrimSpace(params.Command) == "" {
		return jimi.Errorf("command is required", "")
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedFragments {
		if strings.Contains(lower, b) {
			return jimi.Errorf("command blocked for safety: "+b, "")
		}
	}

	if t.approval != nil {
		d := t.approval.Request(ctx, "Bash", jimi.ActionExec, params.Command)
		if d == jimi.Reject {
			return jimi.Rejected("command not approved")
		}
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSecs
	}
	if timeout > maxTimeoutSecs {
		timeout = maxTimeoutSecs
	}

	output, err := t.runner.Run(ctx, params.Command, t.workdir, time.Duration(timeout)*time.Second)
	if len(output) > maxOutput {
		output = output[:maxOutput] + "\n... (truncated)"
	}
	if err != nil {
		if output == "" {
			output = err.Error()
		}
		return jimi.ToolResult{Kind: jimi.ToolError, Message: err.Error(), Detail: output}
	}
	if output == "" {
		output = "(no output)"
	}
	return jimi.Ok(output, firstLine(params.Command))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60] + "..."
	}
	return s
}

// LocalRunner runs commands with sh -c on the host.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out after %s", timeout)
		}
		return output, fmt.Errorf("exit: %w", err)
	}
	return output, nil
}

var (
	_ jimi.Tool          = (*Tool)(nil)
	_ jimi.WorkdirAware  = (*Tool)(nil)
	_ jimi.ApprovalAware = (*Tool)(nil)
)
