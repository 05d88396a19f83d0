package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/nalar/pkg/backend"
	"github.com/harun/nalar/pkg/search"
)

const (
	defaultMaxIterations = 6
	defaultMaxResults    = 6
)

// webSearchSchema is the JSON schema for the web_search tool's arguments.
var webSearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The search query",
		},
		"max_results": map[string]any{
			"type":        "integer",
			"description": "How many results to return",
		},
	},
	"required": []string{"query"},
}

// Runner produces the raw event stream for one question.
type Runner interface {
	Stream(ctx context.Context, question string, h *backend.Handle) (EventStream, error)
}

// Config holds loop configuration.
type Config struct {
	Search        search.Provider
	Logger        zerolog.Logger
	MaxIterations int
	MaxResults    int
	Temperature   float64
	MaxTokens     int
	Now           func() time.Time
}

// Loop is the default Runner. Each iteration asks the backend for a
// completion with the web_search tool declared; tool calls are executed and
// fed back until the model answers without calling a tool.
type Loop struct {
	search        search.Provider
	logger        zerolog.Logger
	maxIterations int
	maxResults    int
	temperature   float64
	maxTokens     int
	now           func() time.Time
}

// NewLoop creates a reasoning loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Search == nil {
		return nil, fmt.Errorf("search provider is required")
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		search:        cfg.Search,
		logger:        cfg.Logger,
		maxIterations: maxIterations,
		maxResults:    maxResults,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		now:           now,
	}, nil
}

// Stream starts the loop for one question. Events are delivered on the
// returned stream; the stream's Err reports the failure that terminated it.
func (l *Loop) Stream(ctx context.Context, question string, h *backend.Handle) (EventStream, error) {
	if h == nil || h.Client == nil {
		return nil, fmt.Errorf("backend handle is required")
	}
	s := newEventStream()
	go l.run(ctx, question, h, s)
	return s, nil
}

func (l *Loop) run(ctx context.Context, question string, h *backend.Handle, s *eventStream) {
	defer close(s.ch)

	system := systemPrompt(l.now())
	messages := []backend.Message{{Role: "user", Content: question}}

	for i := 0; i < l.maxIterations; i++ {
		var toolCalls []backend.ToolCall
		var content strings.Builder
		var pending []string
		sawToolSignal := false

		req := backend.ChatRequest{
			Model:       h.Candidate.Model,
			System:      system,
			Messages:    messages,
			Tools:       []backend.ToolSpec{l.webSearchSpec()},
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		}

		// Whether a turn's text is reasoning or the answer is only known
		// once the turn shows (or finishes without) a tool call, so deltas
		// are held back until then.
		err := h.Client.Chat(ctx, req, func(chunk backend.Chunk) error {
			switch {
			case chunk.ToolCallPending, chunk.ToolCall != nil:
				if chunk.ToolCall != nil {
					toolCalls = append(toolCalls, *chunk.ToolCall)
				}
				if !sawToolSignal {
					sawToolSignal = true
					for _, text := range pending {
						if !l.send(ctx, s, RawEvent{Kind: RawThinking, Text: text}) {
							return ctx.Err()
						}
					}
					pending = nil
				}
			case chunk.Delta != "":
				content.WriteString(chunk.Delta)
				if !sawToolSignal {
					pending = append(pending, chunk.Delta)
					return nil
				}
				if !l.send(ctx, s, RawEvent{Kind: RawThinking, Text: chunk.Delta}) {
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			s.fail(err)
			return
		}

		if len(toolCalls) == 0 {
			for _, text := range pending {
				if !l.send(ctx, s, RawEvent{Kind: RawDelta, Text: text}) {
					s.fail(ctx.Err())
					return
				}
			}
			l.send(ctx, s, RawEvent{Kind: RawDone})
			return
		}

		messages = append(messages, backend.Message{
			Role:      "assistant",
			Content:   content.String(),
			ToolCalls: toolCalls,
		})
		for _, tc := range toolCalls {
			if !l.send(ctx, s, RawEvent{Kind: RawToolCall, ToolName: tc.Name, ToolArgs: tc.Arguments}) {
				s.fail(ctx.Err())
				return
			}
			payload := l.execute(ctx, tc)
			if !l.send(ctx, s, RawEvent{Kind: RawToolResult, Payload: payload}) {
				s.fail(ctx.Err())
				return
			}
			messages = append(messages, backend.Message{
				Role:       "tool",
				Content:    payload,
				ToolCallID: tc.ID,
			})
		}
	}

	// Iteration budget exhausted. End the stream with whatever the model
	// has produced so far.
	l.logger.Warn().Int("max_iterations", l.maxIterations).Msg("Reasoning loop hit iteration limit")
	l.send(ctx, s, RawEvent{Kind: RawDone})
}

// send delivers an event, honoring cancellation. Returns false when the
// context is done.
func (l *Loop) send(ctx context.Context, s *eventStream, ev RawEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) webSearchSpec() backend.ToolSpec {
	return backend.ToolSpec{
		Name:        "web_search",
		Description: "Search the web and return top results with titles, URLs, and snippets.",
		Schema:      webSearchSchema,
	}
}

// execute runs one tool call and returns the payload handed back to the
// model. Failures become JSON error payloads instead of ending the cycle,
// so the model can still answer from what it has.
func (l *Loop) execute(ctx context.Context, tc backend.ToolCall) string {
	if tc.Name != "web_search" {
		return errorPayload(fmt.Sprintf("unknown tool: %s", tc.Name))
	}
	if err := validateArguments(tc.Arguments); err != nil {
		l.logger.Warn().Err(err).Msg("Rejected tool arguments")
		return errorPayload(fmt.Sprintf("invalid arguments: %s", err))
	}

	query, _ := tc.Arguments["query"].(string)
	maxResults := l.maxResults
	if n, ok := tc.Arguments["max_results"].(float64); ok && int(n) > 0 {
		maxResults = int(n)
	}

	results, err := l.search.Search(ctx, query, maxResults)
	if err != nil {
		l.logger.Error().Err(err).Str("query", query).Msg("Search failed")
		return errorPayload(fmt.Sprintf("search failed: %s", err))
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return errorPayload(fmt.Sprintf("failed to encode results: %s", err))
	}
	return string(payload)
}

func validateArguments(args map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(webSearchSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return fmt.Errorf("%s", strings.Join(descriptions, "; "))
	}
	return nil
}

func errorPayload(message string) string {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return string(payload)
}
