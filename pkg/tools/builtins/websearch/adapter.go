package websearch

import (
	"context"
	"regexp"
	"strings"
)

// SearchResult is one hit, with markup already removed.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchAdapter queries one search backend. Implementations return at
// most maxResults hits in the backend's rank order.
type SearchAdapter interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from text.
func stripHTML(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}

// collect cleans raw hits, drops hits without a URL or repeating an
// earlier URL, and stops at limit.
func collect(raw []SearchResult, limit int) []SearchResult {
	out := make([]SearchResult, 0, min(len(raw), limit))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		if len(out) == limit {
			break
		}
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, SearchResult{
			Title:   stripHTML(r.Title),
			URL:     r.URL,
			Snippet: stripHTML(r.Snippet),
		})
	}
	return out
}
