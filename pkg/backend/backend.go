// Package backend selects and talks to inference backends. Candidates are
// probed in priority order and the first reachable one is used for the rest
// of the process, until the recovery policy invalidates it.
package backend

import (
	"context"
	"fmt"
	"strings"
)

// Candidate describes one inference backend that can be tried.
type Candidate struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "openai", "groq", "anthropic"
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"-"`
	Priority int    `json:"priority"` // lower is tried first
}

// Handle is a verified-reachable backend ready for use.
type Handle struct {
	Candidate Candidate
	Client    Client
}

// Message is one turn in a backend conversation.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolSpec declares a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any // JSON schema for the arguments
}

// Chunk is one increment of a streamed completion.
// Exactly one of the fields is meaningful per chunk.
type Chunk struct {
	Delta           string    // incremental answer text
	ToolCall        *ToolCall // a fully assembled tool call
	ToolCallPending bool      // a tool call is being assembled
}

// ChatRequest carries the parameters for one completion.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Client is implemented by provider-specific backend clients.
type Client interface {
	// Probe sends a minimal request to verify the backend is reachable.
	Probe(ctx context.Context, model string) error

	// Chat runs one completion, invoking emit for each chunk as it arrives.
	Chat(ctx context.Context, req ChatRequest, emit func(Chunk) error) error

	// Provider returns the provider name.
	Provider() string
}

// ClientFactory creates backend clients from candidates.
type ClientFactory interface {
	NewClient(c Candidate) (Client, error)
}

// Factory is the default ClientFactory.
type Factory struct{}

// NewClient creates a client based on the candidate's provider.
func (Factory) NewClient(c Candidate) (Client, error) {
	switch strings.ToLower(c.Provider) {
	case "openai", "groq":
		return NewOpenAIClient(c.APIKey, c.BaseURL), nil
	case "anthropic":
		return NewAnthropicClient(c.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}
