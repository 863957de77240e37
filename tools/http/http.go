// Package http provides the WebFetch tool: it downloads a URL and
// extracts readable text content.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	jimi "github.com/jimihq/jimi"
)

// maxFetchOutput bounds the text handed back to the LLM.
const maxFetchOutput = 8000

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// New creates a WebFetch tool with a 15-second timeout.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Tool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "WebFetch",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}

	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return jimi.Errorf(err.Error(), "")
	}
	if len(content) > maxFetchOutput {
		content = content[:maxFetchOutput] + "\n... (truncated)"
	}
	return jimi.Ok(content, "Fetched "+params.URL)
}

// Fetch downloads a URL and extracts readable text. Exported for use
// by the search tool.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; JimiBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	// Fallback: simple HTML stripping.
	return StripHTML(html), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes script/style blocks and tags, collapsing whitespace.
func StripHTML(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var _ jimi.Tool = (*Tool)(nil)
