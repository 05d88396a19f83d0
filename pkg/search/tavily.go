package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey  string
	depth   string // basic or advanced
	baseURL string
	client  *http.Client
}

// TavilyOption configures a Tavily provider.
type TavilyOption func(*Tavily)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) TavilyOption {
	return func(t *Tavily) { t.client = client }
}

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(url string) TavilyOption {
	return func(t *Tavily) { t.baseURL = url }
}

// WithDepth sets Tavily's search depth parameter.
func WithDepth(depth string) TavilyOption {
	return func(t *Tavily) { t.depth = depth }
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey string, opts ...TavilyOption) *Tavily {
	t := &Tavily{
		apiKey:  apiKey,
		depth:   "basic",
		baseURL: defaultTavilyURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Search posts a query to Tavily and returns normalized results.
// Fields missing from the response are substituted with defaults rather
// than failing; malformed entries are skipped.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if maxResults <= 0 {
		maxResults = 6
	}

	body := map[string]any{
		"query":        query,
		"api_key":      t.apiKey,
		"search_depth": t.depth,
		"max_results":  maxResults,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		results = append(results, Result{Title: title, URL: r.URL, Snippet: r.Content})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}
