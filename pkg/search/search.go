// Package search provides web search providers used by the reasoning loop.
package search

import "context"

// Result is a single item returned by a Provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider executes a query and returns ranked results.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
