// Package search provides the SearchWeb tool: Brave Search when an API
// key is configured, DuckDuckGo HTML scraping otherwise.
package search

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

	jimi "github.com/jimihq/jimi"
)

const (
	defaultResultCount = 8
	userAgent          = "Mozilla/5.0 (compatible; JimiBot/1.0)"
)

// Result is one search hit.
type Result struct {
	Title       string
	URL         string
	Description string
}

// Tool performs web searches.
type Tool struct {
	braveAPIKey string
	client      *http.Client
}

// New creates the SearchWeb tool. With an empty Brave key, searches
// fall back to DuckDuckGo HTML scraping.
func New(braveAPIKey string) *Tool {
	return &Tool{
		braveAPIKey: braveAPIKey,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Tool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "SearchWeb",
		Description: "Search the web for current information. Use for recent events, library documentation, error messages, or anything that needs up-to-date data.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query optimized for search engines"},
				"count": {"type": "integer", "description": "Max results (default 8)"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	if strings.TrimSpace(params.Query) == "" {
		return jimi.Errorf("query is required", "")
	}
	count := params.Count
	if count <= 0 {
		count = defaultResultCount
	}

	var (
		results []Result
		err     error
	)
	if t.braveAPIKey != "" {
		results, err = t.braveSearch(ctx, params.Query, count)
	} else {
		results, err = t.ddgSearch(ctx, params.Query, count)
	}
	if err != nil {
		return jimi.Errorf("search failed: "+err.Error(), "")
	}
	if len(results) == 0 {
		return jimi.Ok(fmt.Sprintf("No results found for %q.", params.Query), "0 results")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
	}
	return jimi.Ok(b.String(), fmt.Sprintf("%d results", len(results)))
}

func (t *Tool) braveSearch(ctx context.Context, query string, count int) ([]Result, error) {
	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveAPIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("brave parse error: %w", err)
	}

	var results []Result
	for _, r := range data.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (t *Tool) ddgSearch(ctx context.Context, query string, count int) ([]Result, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return extractDDGResults(string(body), count), nil
}

// extractDDGResults pulls results out of DuckDuckGo's HTML page.
func extractDDGResults(html string, count int) []Result {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []Result
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := linkMatches[i][1]
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(linkMatches[i][2], ""))

		// DDG wraps URLs with a redirect; extract the uddg= param.
		if strings.Contains(rawURL, "uddg=") {
			if u, err := url.QueryUnescape(rawURL); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					extracted := u[idx+5:]
					if ampIdx := strings.Index(extracted, "&"); ampIdx != -1 {
						extracted = extracted[:ampIdx]
					}
					rawURL = extracted
				}
			}
		}

		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}
		results = append(results, Result{Title: title, URL: rawURL, Description: desc})
	}
	return results
}

var _ jimi.Tool = (*Tool)(nil)
