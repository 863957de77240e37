package jimi

import (
	"context"
	"encoding/json"
	"sync"
)

// HumanInputKind distinguishes free-form questions from choice prompts.
type HumanInputKind string

const (
	InputFreeForm HumanInputKind = "free-form"
	InputChoice   HumanInputKind = "choice"
)

// HumanInputRequest is published on the Wire when the agent needs an
// answer from the user mid-turn. The UI resolves the handle with the
// user's reply; the core blocks on it.
type HumanInputRequest struct {
	Kind     HumanInputKind
	Question string
	Choices  []string
	Default  string

	once sync.Once
	ch   chan string
}

// Resolve answers the request. Only the first call has effect.
func (r *HumanInputRequest) Resolve(value string) {
	r.once.Do(func() { r.ch <- value })
}

// AskHuman publishes a HumanInputRequest on bus and blocks until the UI
// resolves it or ctx is cancelled.
func AskHuman(ctx context.Context, bus *Wire, kind HumanInputKind, question string, choices []string, def string) (string, error) {
	req := &HumanInputRequest{
		Kind:     kind,
		Question: question,
		Choices:  choices,
		Default:  def,
		ch:       make(chan string, 1),
	}
	bus.Publish(Event{Type: EventHumanInput, Input: req})
	select {
	case v := <-req.ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AskUserTool is the built-in tool letting the LLM ask the user a
// question when it needs clarification or a decision.
type AskUserTool struct {
	bus *Wire
}

// NewAskUserTool creates the tool; the registry attaches the Wire.
func NewAskUserTool() *AskUserTool { return &AskUserTool{} }

// AttachBus implements BusAware.
func (t *AskUserTool) AttachBus(w *Wire) { t.bus = w }

func (t *AskUserTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "AskUser",
		Description: "Ask the user a question when you need clarification, confirmation, or additional information to proceed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "description": "The question to ask the user"},
				"choices": {"type": "array", "items": {"type": "string"}, "description": "Optional suggested answers"},
				"default": {"type": "string", "description": "Optional default answer"}
			},
			"required": ["question"]
		}`),
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args json.RawMessage) ToolResult {
	var params struct {
		Question string   `json:"question"`
		Choices  []string `json:"choices"`
		Default  string   `json:"default"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid arguments", err.Error())
	}
	if t.bus == nil {
		return Errorf("no interactive session attached", "")
	}
	kind := InputFreeForm
	if len(params.Choices) > 0 {
		kind = InputChoice
	}
	answer, err := AskHuman(ctx, t.bus, kind, params.Question, params.Choices, params.Default)
	if err != nil {
		return Errorf("user input unavailable: "+err.Error(), "")
	}
	return Ok(answer, "User answered")
}

var _ Tool = (*AskUserTool)(nil)
var _ BusAware = (*AskUserTool)(nil)
