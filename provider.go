package jimi

import "context"

// DeltaSink receives incremental generation text. The engine passes a
// sink that republishes deltas on the Wire as content-delta events.
type DeltaSink func(kind DeltaKind, text string)

// GenerateRequest is one LLM turn: the system prompt, the conversation
// so far, and the tool schemas the model may call.
type GenerateRequest struct {
	SystemPrompt string
	History      []Message
	Tools        []ToolDefinition
	// Deltas, when non-nil, streams reasoning/content chunks as they
	// arrive. The full message is still returned at the end.
	Deltas DeltaSink
}

// GenerateResult is the provider's resolved output for one turn.
type GenerateResult struct {
	Message Message
	// Usage is nil when the backend reports no token accounting.
	Usage *Usage
}

// ChatProvider abstracts the LLM backend. The core performs no HTTP
// itself; implementations live in provider/ subpackages. Failures
// surface as typed errors (ErrLLM, ErrHTTP) the engine maps to a
// graceful turn termination.
type ChatProvider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}
