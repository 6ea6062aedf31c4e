package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SearXNGAdapter queries a SearXNG instance through its JSON API.
type SearXNGAdapter struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG creates an adapter for the instance at baseURL. A nil client
// means http.DefaultClient.
func NewSearXNG(baseURL string, client *http.Client) *SearXNGAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNGAdapter{
		endpoint: strings.TrimRight(baseURL, "/") + "/search",
		client:   client,
	}
}

// Search runs query in the "general" category.
func (s *SearXNGAdapter) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{
		"q":          {query},
		"format":     {"json"},
		"categories": {"general"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating searxng request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding searxng response: %w", err)
	}

	raw := make([]SearchResult, len(body.Results))
	for i, r := range body.Results {
		raw[i] = SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content}
	}
	return collect(raw, maxResults), nil
}

// StatusError reports a non-200 answer from a search backend. 4xx other
// than 429 are treated as permanent by the tool.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search backend returned status %d", e.Code)
}
