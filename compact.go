package jimi

import (
	"context"
	"log/slog"
	"strings"
)

// ReservedTokens is the headroom subtracted from the model context size
// before the compaction check. It leaves room for the next generation.
const ReservedTokens = 50_000

// compactKeepRecent is the number of most recent messages kept verbatim
// when the token budget allows it.
const compactKeepRecent = 8

// approxCharsPerToken is the rune heuristic used to size the verbatim
// tail; exact counts come from provider usage reports afterwards.
const approxCharsPerToken = 4

// Compactor rewrites an over-budget history into a short,
// semantically-preserving replacement: one user/assistant summary pair
// followed by the most recent messages verbatim.
type Compactor struct {
	provider ChatProvider
	logger   *slog.Logger
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// CompactorLogger sets the structured logger.
func CompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor creates a Compactor that summarizes with the given provider.
func NewCompactor(p ChatProvider, opts ...CompactorOption) *Compactor {
	c := &Compactor{provider: p, logger: nopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

const compactSystemPrompt = "Summarize the conversation below for a coding " +
	"agent that is about to continue the task. Preserve: the user's goal, " +
	"decisions made, files touched, commands run and their outcomes, open " +
	"problems, and any constraints stated. Omit pleasantries and redundant " +
	"tool output. Write a dense factual summary."

// Compact returns the replacement history. The result fits well within
// tokenBudget; on summarization failure the error is returned and the
// caller keeps the current history intact.
func (c *Compactor) Compact(ctx context.Context, history []Message, tokenBudget int) ([]Message, error) {
	keepFrom := len(history)
	keep := 0
	budgetRunes := tokenBudget / 2 * approxCharsPerToken
	runes := 0
	for i := len(history) - 1; i >= 0 && keep < compactKeepRecent; i-- {
		r := len([]rune(history[i].Text()))
		if runes+r > budgetRunes && keep > 0 {
			break
		}
		// Never split a tool response from its assistant request.
		if history[i].Role == RoleTool {
			j := i
			for j >= 0 && history[j].Role == RoleTool {
				j--
			}
			if j < 0 || len(history[j].ToolCalls) == 0 {
				break
			}
			for k := j; k <= i; k++ {
				runes += len([]rune(history[k].Text()))
			}
			keep += i - j + 1
			keepFrom = j
			i = j
			continue
		}
		runes += r
		keep++
		keepFrom = i
	}

	discarded := history[:keepFrom]
	if len(discarded) == 0 {
		out := make([]Message, len(history))
		copy(out, history)
		return out, nil
	}

	summary, err := c.summarize(ctx, discarded)
	if err != nil {
		return nil, err
	}

	replacement := make([]Message, 0, len(history)-keepFrom+2)
	replacement = append(replacement,
		UserMessage("<system>Earlier conversation was compacted. The summary follows.</system>"),
		AssistantMessage(summary),
	)
	replacement = append(replacement, history[keepFrom:]...)
	return replacement, nil
}

// summarize asks the provider for a summary of the discarded prefix.
func (c *Compactor) summarize(ctx context.Context, msgs []Message) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Text())
		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				b.WriteString("\n[called ")
				b.WriteString(tc.Function.Name)
				b.WriteString("]")
			}
		}
		b.WriteString("\n---\n")
	}
	res, err := c.provider.Generate(ctx, GenerateRequest{
		SystemPrompt: compactSystemPrompt,
		History:      []Message{UserMessage(b.String())},
	})
	if err != nil {
		return "", err
	}
	return res.Message.Text(), nil
}
