package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/config"
)

// HeaderSource supplies request headers for an MCP server connection.
type HeaderSource interface {
	Headers(ctx context.Context) (http.Header, error)
}

// StaticHeaders is a HeaderSource with fixed values.
type StaticHeaders map[string]string

// Headers returns the configured values.
func (s StaticHeaders) Headers(context.Context) (http.Header, error) {
	h := make(http.Header, len(s))
	for k, v := range s {
		h.Set(k, v)
	}
	return h, nil
}

// ClientCredentials obtains bearer tokens with the OAuth 2.0
// client_credentials grant. Tokens are cached and refreshed once 80% of
// their lifetime has elapsed; if that refresh fails while the cached token
// is still valid, the cached token keeps being used.
type ClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiry    time.Time
	refreshAt time.Time
}

// tokenResponse represents the JSON response from an OAuth 2.0 token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewClientCredentials creates a token source from cfg. A nil httpClient
// gets a client with a 10 second timeout.
func NewClientCredentials(cfg config.MCPAuthConfig, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClientCredentials{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Headers returns an Authorization header carrying a bearer token.
func (a *ClientCredentials) Headers(ctx context.Context) (http.Header, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header, 1)
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// Token returns a valid access token, fetching a new one when needed.
func (a *ClientCredentials) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Before(a.refreshAt) {
		return a.token, nil
	}

	token, expiresIn, err := a.fetch(ctx)
	if err != nil {
		if a.token != "" && now.Before(a.expiry) {
			return a.token, nil
		}
		return "", fmt.Errorf("acquiring OAuth token: %w", err)
	}

	lifetime := time.Duration(expiresIn) * time.Second
	a.token = token
	a.expiry = now.Add(lifetime)
	a.refreshAt = now.Add(lifetime * 8 / 10)
	return token, nil
}

func (a *ClientCredentials) fetch(ctx context.Context) (string, int, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
	}
	if len(a.scopes) > 0 {
		form.Set("scope", strings.Join(a.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}

// headerTransport applies every source, in order, to outgoing requests.
// Later sources override earlier ones.
type headerTransport struct {
	base    http.RoundTripper
	sources []HeaderSource
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for _, src := range t.sources {
		h, err := src.Headers(req.Context())
		if err != nil {
			return nil, fmt.Errorf("getting auth headers: %w", err)
		}
		for k, vs := range h {
			req.Header[k] = vs
		}
	}
	return t.base.RoundTrip(req)
}
