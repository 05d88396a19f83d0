// Package config loads and watches the nalar configuration.
package config

import "fmt"

// Config is the main nalar configuration.
type Config struct {
	// Backends are the inference candidates, tried in priority order.
	Backends []BackendConfig `json:"backends" mapstructure:"backends"`

	// Search configures the web search provider.
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Render configures the operator-facing output.
	Render RenderConfig `json:"render" mapstructure:"render"`

	// Loop configures the reasoning loop.
	Loop LoopConfig `json:"loop" mapstructure:"loop"`

	// Recovery configures the transient failure signatures.
	Recovery RecoveryConfig `json:"recovery" mapstructure:"recovery"`

	// Logging configures the logger.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is where session logs and traces live.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// ProbeTimeoutSeconds bounds each backend probe.
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds" mapstructure:"probe_timeout_seconds"`
}

// BackendConfig describes one inference backend candidate.
type BackendConfig struct {
	ID        string `json:"id" mapstructure:"id"`
	Provider  string `json:"provider" mapstructure:"provider"` // groq, openai, anthropic
	Model     string `json:"model" mapstructure:"model"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	APIKeyEnv string `json:"api_key_env" mapstructure:"api_key_env"`
	Priority  int    `json:"priority" mapstructure:"priority"`
}

// SearchConfig holds search provider configuration.
type SearchConfig struct {
	APIKeyEnv  string `json:"api_key_env" mapstructure:"api_key_env"`
	MaxResults int    `json:"max_results" mapstructure:"max_results"`
	Depth      string `json:"depth" mapstructure:"depth"` // basic or advanced
}

// RenderConfig holds output configuration.
type RenderConfig struct {
	Mode string `json:"mode" mapstructure:"mode"` // rich or plain
}

// LoopConfig holds reasoning loop configuration.
type LoopConfig struct {
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// RecoveryConfig holds the injectable transient failure signatures.
type RecoveryConfig struct {
	OverloadedSignatures  []string `json:"overloaded_signatures" mapstructure:"overloaded_signatures"`
	RateLimitedSignatures []string `json:"rate_limited_signatures" mapstructure:"rate_limited_signatures"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration: Groq-hosted Kimi K2
// first, GPT OSS 120B as the fallback, Tavily for search.
func DefaultConfig() *Config {
	return &Config{
		Backends: []BackendConfig{
			{
				ID:        "groq-kimi-k2",
				Provider:  "groq",
				Model:     "moonshotai/kimi-k2-instruct",
				BaseURL:   "https://api.groq.com/openai/v1",
				APIKeyEnv: "GROQ_API_KEY",
				Priority:  1,
			},
			{
				ID:        "groq-gpt-oss-120b",
				Provider:  "groq",
				Model:     "openai/gpt-oss-120b",
				BaseURL:   "https://api.groq.com/openai/v1",
				APIKeyEnv: "GROQ_API_KEY",
				Priority:  2,
			},
		},
		Search: SearchConfig{
			APIKeyEnv:  "TAVILY_API_KEY",
			MaxResults: 6,
			Depth:      "basic",
		},
		Render: RenderConfig{Mode: "rich"},
		Loop: LoopConfig{
			MaxIterations: 6,
			Temperature:   0,
			MaxTokens:     4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		ProbeTimeoutSeconds: 10,
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	seen := map[string]bool{}
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend id is required")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id: %s", b.ID)
		}
		seen[b.ID] = true
		if b.Model == "" {
			return fmt.Errorf("backend %s: model is required", b.ID)
		}
		if b.Provider == "" {
			return fmt.Errorf("backend %s: provider is required", b.ID)
		}
	}
	if mode := c.Render.Mode; mode != "rich" && mode != "plain" {
		return fmt.Errorf("render mode must be rich or plain, got %q", mode)
	}
	return nil
}
