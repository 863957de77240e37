package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	jimi "github.com/jimihq/jimi"
)

// Provider implements jimi.ChatProvider for any OpenAI-compatible API,
// using the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse).
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	stream  bool
	opts    []Option
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported to the engine.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithStreaming toggles SSE streaming (on by default). When on,
// generation deltas flow into the request's sink as they arrive.
func WithStreaming(on bool) ProviderOption {
	return func(p *Provider) { p.stream = on }
}

// WithRequestOptions applies body options (temperature, max tokens, ...)
// to every request.
func WithRequestOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"); /chat/completions is appended.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
		stream:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai").
func (p *Provider) Name() string { return p.name }

// Generate sends one chat completion request. With streaming enabled,
// deltas flow into req.Deltas while the full message accumulates.
func (p *Provider) Generate(ctx context.Context, req jimi.GenerateRequest) (*jimi.GenerateResult, error) {
	body := BuildBody(req, p.model, p.opts...)
	if p.stream {
		body.Stream = true
		body.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	if p.stream {
		return StreamSSE(ctx, resp.Body, req.Deltas)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &jimi.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp), nil
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &jimi.ErrLLM{Provider: p.name, Message: fmt.Sprintf("encode request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &jimi.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &jimi.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	return resp, nil
}

// httpErr converts a non-200 response into an ErrHTTP, parsing the
// Retry-After header when present.
func httpErr(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	e := &jimi.ErrHTTP{Status: resp.StatusCode, Body: string(b)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(ra); err == nil {
			e.RetryAfter = time.Until(at)
		}
	}
	return e
}

// compile-time check
var _ jimi.ChatProvider = (*Provider)(nil)
