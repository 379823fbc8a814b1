package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	sublime "github.com/sublime-labs/sublimechain"
	"github.com/sublime-labs/sublimechain/src/cache"
)

const (
	webfetchTimeout  = 20 * time.Second
	webfetchMaxChars = 8000
	webfetchCacheTTL = 5 * time.Minute
)

// WebFetchTool retrieves a URL and extracts the readable text from its HTML.
// Recently fetched pages are served from an in-process cache.
type WebFetchTool struct {
	// Client is swappable for tests; defaults to a short-timeout client.
	Client *http.Client

	pages     *cache.LRU[string]
	pagesOnce sync.Once
}

func (w *WebFetchTool) Spec() sublime.ToolSpec {
	return sublime.ToolSpec{
		Name:        "webfetch",
		Description: "Fetches a web page over HTTP GET and returns its readable text content.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http(s) URL to fetch.",
				},
			},
			"required": []any{"url"},
		},
	}
}

func (w *WebFetchTool) Invoke(ctx context.Context, req sublime.ToolRequest) (sublime.ToolResponse, error) {
	raw, _ := req.Arguments["url"].(string)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return sublime.ToolResponse{}, fmt.Errorf("invalid url %q", raw)
	}

	w.pagesOnce.Do(func() {
		w.pages = cache.New[string](64, webfetchCacheTTL)
	})
	key := cache.Key(target.String())
	if text, ok := w.pages.Get(key); ok {
		return sublime.ToolResponse{
			Content:  text,
			Metadata: map[string]string{"url": target.String(), "cache": "hit"},
		}, nil
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: webfetchTimeout}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return sublime.ToolResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "sublimechain/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return sublime.ToolResponse{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return sublime.ToolResponse{}, fmt.Errorf("fetch %s: %s", target, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return sublime.ToolResponse{}, fmt.Errorf("parse %s: %w", target, err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	text := condenseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = condenseWhitespace(doc.Text())
	}
	if len(text) > webfetchMaxChars {
		text = truncateAtRune(text, webfetchMaxChars) + "…"
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		text = title + "\n\n" + text
	}
	w.pages.Set(key, text)
	return sublime.ToolResponse{
		Content:  text,
		Metadata: map[string]string{"url": target.String()},
	}, nil
}

// truncateAtRune cuts s to at most max bytes without splitting a UTF-8 rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func condenseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
