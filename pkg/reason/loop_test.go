package reason

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nalar/pkg/backend"
	"github.com/harun/nalar/pkg/search"
)

// scriptedClient replays one chunk sequence per Chat call.
type scriptedClient struct {
	turns    [][]backend.Chunk
	err      error // returned by every Chat call when set
	requests []backend.ChatRequest
}

func (c *scriptedClient) Probe(ctx context.Context, model string) error { return nil }

func (c *scriptedClient) Chat(ctx context.Context, req backend.ChatRequest, emit func(backend.Chunk) error) error {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return c.err
	}
	turn := len(c.requests) - 1
	if turn >= len(c.turns) {
		return errors.New("no scripted turn left")
	}
	for _, chunk := range c.turns[turn] {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *scriptedClient) Provider() string { return "test" }

type fakeSearch struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func newTestLoop(t *testing.T, provider search.Provider) *Loop {
	t.Helper()
	loop, err := NewLoop(Config{
		Search: provider,
		Now:    func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return loop
}

func drain(t *testing.T, stream EventStream) []RawEvent {
	t.Helper()
	events := []RawEvent{}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func kinds(events []RawEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func handleWith(client backend.Client) *backend.Handle {
	return &backend.Handle{
		Candidate: backend.Candidate{ID: "test", Provider: "test", Model: "test-model"},
		Client:    client,
	}
}

func TestLoopStream(t *testing.T) {
	t.Run("should emit a search round followed by the answer", func(t *testing.T) {
		provider := &fakeSearch{results: []search.Result{
			{Title: "T", URL: "https://example.com", Snippet: "s"},
		}}
		client := &scriptedClient{turns: [][]backend.Chunk{
			{
				{ToolCallPending: true},
				{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"query": "X"}}},
			},
			{
				{Delta: "TL;DR: "},
				{Delta: "ok"},
			},
		}}
		loop := newTestLoop(t, provider)

		stream, err := loop.Stream(context.Background(), "X", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{RawToolCall, RawToolResult, RawDelta, RawDelta, RawDone}, kinds(events))
		assert.Equal(t, "web_search", events[0].ToolName)
		assert.Equal(t, "X", events[0].ToolArgs["query"])
		assert.Equal(t, []string{"X"}, provider.queries)

		var decoded []search.Result
		require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &decoded))
		assert.Equal(t, provider.results, decoded)
	})

	t.Run("should answer directly when the model never calls a tool", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{{Delta: "direct"}, {Delta: " answer"}},
		}}
		loop := newTestLoop(t, &fakeSearch{})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{RawDelta, RawDelta, RawDone}, kinds(events))
		require.Len(t, client.requests, 1)
	})

	t.Run("should tag every text in a tool-calling turn as thinking", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{
				{Delta: "Let me search."},
				{ToolCallPending: true},
				{Delta: "Searching now..."},
				{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"query": "q"}}},
			},
			{{Delta: "answer"}},
		}}
		loop := newTestLoop(t, &fakeSearch{})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{RawThinking, RawThinking, RawToolCall, RawToolResult, RawDelta, RawDone}, kinds(events))
		assert.Equal(t, "Let me search.", events[0].Text)
		assert.Equal(t, "Searching now...", events[1].Text)
	})

	t.Run("should keep preamble text out of the answer deltas", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{
				{Delta: "Let me search for that. "},
				{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"query": "q"}}},
			},
			{{Delta: "TL;DR: "}, {Delta: "ok"}},
		}}
		loop := newTestLoop(t, &fakeSearch{})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())

		var answer strings.Builder
		for _, ev := range events {
			if ev.Kind == RawDelta {
				answer.WriteString(ev.Text)
			}
		}
		assert.Equal(t, "TL;DR: ok", answer.String())
	})

	t.Run("should feed the tool result back to the model", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"query": "q"}}}},
			{{Delta: "answer"}},
		}}
		loop := newTestLoop(t, &fakeSearch{results: []search.Result{{Title: "T"}}})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)
		drain(t, stream)

		require.Len(t, client.requests, 2)
		second := client.requests[1].Messages
		require.Len(t, second, 3) // user, assistant tool call, tool result
		assert.Equal(t, "assistant", second[1].Role)
		require.Len(t, second[1].ToolCalls, 1)
		assert.Equal(t, "tool", second[2].Role)
		assert.Equal(t, "call_1", second[2].ToolCallID)
		assert.Contains(t, second[2].Content, `"title":"T"`)
	})

	t.Run("should reject invalid tool arguments with an error payload", func(t *testing.T) {
		provider := &fakeSearch{}
		client := &scriptedClient{turns: [][]backend.Chunk{
			{{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"max_results": 3.0}}}},
			{{Delta: "answer"}},
		}}
		loop := newTestLoop(t, provider)

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())

		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &payload))
		assert.Contains(t, payload["error"], "invalid arguments")
		assert.Empty(t, provider.queries, "invalid calls never reach the provider")
	})

	t.Run("should report unknown tools without ending the cycle", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{{ToolCall: &backend.ToolCall{ID: "call_1", Name: "read_file", Arguments: map[string]any{}}}},
			{{Delta: "answer"}},
		}}
		loop := newTestLoop(t, &fakeSearch{})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Contains(t, events[1].Payload, "unknown tool: read_file")
		assert.Equal(t, RawDone, events[len(events)-1].Kind)
	})

	t.Run("should turn search failures into error payloads", func(t *testing.T) {
		client := &scriptedClient{turns: [][]backend.Chunk{
			{{ToolCall: &backend.ToolCall{ID: "call_1", Name: "web_search", Arguments: map[string]any{"query": "q"}}}},
			{{Delta: "answer from memory"}},
		}}
		loop := newTestLoop(t, &fakeSearch{err: errors.New("boom")})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Contains(t, events[1].Payload, "search failed: boom")
		assert.Equal(t, []string{RawToolCall, RawToolResult, RawDelta, RawDone}, kinds(events))
	})

	t.Run("should surface backend errors through Err", func(t *testing.T) {
		client := &scriptedClient{err: errors.New("503 service unavailable")}
		loop := newTestLoop(t, &fakeSearch{})

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		assert.Empty(t, events)
		assert.ErrorContains(t, stream.Err(), "503")
	})

	t.Run("should stop at the iteration limit", func(t *testing.T) {
		turns := make([][]backend.Chunk, 8)
		for i := range turns {
			turns[i] = []backend.Chunk{
				{ToolCall: &backend.ToolCall{ID: "call", Name: "web_search", Arguments: map[string]any{"query": "q"}}},
			}
		}
		client := &scriptedClient{turns: turns}
		loop, err := NewLoop(Config{Search: &fakeSearch{}, MaxIterations: 2})
		require.NoError(t, err)

		stream, err := loop.Stream(context.Background(), "q", handleWith(client))
		require.NoError(t, err)

		events := drain(t, stream)
		require.NoError(t, stream.Err())
		assert.Len(t, client.requests, 2)
		assert.Equal(t, RawDone, events[len(events)-1].Kind)
	})

	t.Run("should require a backend handle", func(t *testing.T) {
		loop := newTestLoop(t, &fakeSearch{})
		_, err := loop.Stream(context.Background(), "q", nil)
		assert.Error(t, err)
	})
}

func TestSystemPrompt(t *testing.T) {
	t.Run("should carry the current date", func(t *testing.T) {
		prompt := systemPrompt(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
		assert.Contains(t, prompt, "2026")
		assert.Contains(t, prompt, "web_search")
	})
}
