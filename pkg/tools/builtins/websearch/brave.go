package websearch

import (
	"context"
	"fmt"

	bravesearch "github.com/cnosuke/go-brave-search"
)

// braveMaxCount is the largest page size the Brave API accepts.
const braveMaxCount = 20

// BraveAdapter implements SearchAdapter using the Brave Search API.
type BraveAdapter struct {
	client *bravesearch.Client
}

// NewBrave creates a Brave adapter authenticated with apiKey.
func NewBrave(apiKey string) (*BraveAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("web_search: 'api_key' is required for brave backend")
	}
	client, err := bravesearch.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("web_search: creating brave client: %w", err)
	}
	return &BraveAdapter{client: client}, nil
}

// Search queries Brave and returns up to maxResults web results.
func (b *BraveAdapter) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	count := min(max(maxResults, 1), braveMaxCount)

	resp, err := b.client.WebSearch(ctx, query, &bravesearch.WebSearchParams{
		Count: count,
	})
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}

	web := resp.GetWebResults()
	raw := make([]SearchResult, len(web))
	for i, r := range web {
		raw[i] = SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description}
	}
	return collect(raw, maxResults), nil
}
