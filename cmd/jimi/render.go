package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	jimi "github.com/jimihq/jimi"
)

// renderer turns Wire events into terminal output and answers
// approval / human-input requests from stdin.
type renderer struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader

	// streaming state: whether the last write was a delta without a
	// trailing newline.
	midLine bool
}

func newRenderer(out io.Writer, in *bufio.Reader) *renderer {
	return &renderer{out: out, in: in}
}

// consume drains the subscription until it closes.
func (r *renderer) consume(sub *jimi.Subscription) {
	for ev := range sub.C {
		r.render(ev)
	}
}

// flush terminates a pending delta line.
func (r *renderer) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *renderer) render(ev jimi.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endLine := func() {
		if r.midLine {
			fmt.Fprintln(r.out)
			r.midLine = false
		}
	}

	switch ev.Type {
	case jimi.EventStepBegin:
		endLine()
		if ev.Sub {
			fmt.Fprintf(r.out, "  [%s step %d]\n", ev.AgentName, ev.Step)
		} else if ev.Step > 1 {
			fmt.Fprintf(r.out, "[step %d]\n", ev.Step)
		}

	case jimi.EventContentDelta:
		if ev.DeltaKind == jimi.DeltaContent {
			fmt.Fprint(r.out, ev.Text)
			r.midLine = true
		}

	case jimi.EventToolCallBegin:
		endLine()
		fmt.Fprintf(r.out, "⚒ %s(%s)\n", ev.ToolCall.Function.Name, trim(ev.ToolCall.Function.Arguments, 120))

	case jimi.EventToolResult:
		endLine()
		if ev.Result.IsError() {
			fmt.Fprintf(r.out, "  ✗ %s\n", trim(ev.Result.ForLLM(), 200))
		} else if ev.Result.Brief != "" {
			fmt.Fprintf(r.out, "  ✓ %s\n", ev.Result.Brief)
		}

	case jimi.EventTokenUsage:
		// Silent; surfaced via /history.

	case jimi.EventCompactionBegin:
		endLine()
		fmt.Fprintln(r.out, "[compacting context...]")
	case jimi.EventCompactionEnd:
		fmt.Fprintln(r.out, "[compaction done]")

	case jimi.EventStepInterrupted:
		endLine()

	case jimi.EventApprovalRequest:
		endLine()
		r.answerApproval(ev.Approval)

	case jimi.EventHumanInput:
		endLine()
		r.answerHumanInput(ev.Input)

	case jimi.EventAsyncStarted:
		endLine()
		fmt.Fprintf(r.out, "[async %s started: %s (%s)]\n", ev.Async.ID, ev.Async.Name, ev.Async.Mode)
	case jimi.EventAsyncProgress:
		endLine()
		fmt.Fprintf(r.out, "[async %s: %s]\n", ev.Async.ID, ev.Async.Info)
	case jimi.EventAsyncTrigger:
		endLine()
		fmt.Fprintf(r.out, "[async %s triggered on %q: %s]\n", ev.Async.ID, ev.Async.Pattern, ev.Async.MatchedLine)
	case jimi.EventAsyncCompleted:
		endLine()
		status := "failed"
		if ev.Async.Success {
			status = "completed"
		}
		fmt.Fprintf(r.out, "[async %s %s after %s]\n", ev.Async.ID, status,
			jimi.FormatDuration(ev.Async.Duration.Milliseconds()))
	}
}

// answerApproval prompts on the terminal and resolves the request.
func (r *renderer) answerApproval(req *jimi.ApprovalRequest) {
	fmt.Fprintf(r.out, "approve %s %s? %s\n  [y]es / [a]lways this session / [n]o: ",
		req.Action, req.Scope, trim(req.Description, 200))
	answer := r.readLine()
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		req.Resolve(jimi.Approve)
	case "a", "always":
		req.Resolve(jimi.ApproveForSession)
	default:
		req.Resolve(jimi.Reject)
	}
}

// answerHumanInput prompts for the agent's question.
func (r *renderer) answerHumanInput(req *jimi.HumanInputRequest) {
	fmt.Fprintf(r.out, "agent asks: %s\n", req.Question)
	if len(req.Choices) > 0 {
		fmt.Fprintf(r.out, "  choices: %s\n", strings.Join(req.Choices, ", "))
	}
	if req.Default != "" {
		fmt.Fprintf(r.out, "  (default: %s)\n", req.Default)
	}
	fmt.Fprint(r.out, "? ")
	answer := strings.TrimSpace(r.readLine())
	if answer == "" {
		answer = req.Default
	}
	req.Resolve(answer)
}

func (r *renderer) readLine() string {
	line, err := r.in.ReadString('\n')
	if err != nil {
		return ""
	}
	return line
}

func trim(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
