// Package reason drives the reason/act/observe loop against a selected
// backend, emitting a stream of raw events as the model thinks, calls
// tools, and produces its answer.
package reason

import "sync"

// Raw event kinds emitted by the loop. Consumers must tolerate kinds they
// do not recognize.
const (
	RawToolCall   = "tool_call"
	RawToolResult = "tool_result"
	RawDelta      = "delta"
	RawDone       = "done"
	RawThinking   = "thinking" // model text produced in a turn that calls a tool
)

// RawEvent is one element of the loop's event stream. Which fields are set
// depends on Kind.
type RawEvent struct {
	Kind     string
	ToolName string
	ToolArgs map[string]any
	Payload  string // verbatim tool result payload
	Text     string
}

// EventStream is an incrementally consumed sequence of raw events.
// Err reports the failure that terminated the stream, if any; it is valid
// once the events channel is closed.
type EventStream interface {
	Events() <-chan RawEvent
	Err() error
}

type eventStream struct {
	ch chan RawEvent

	mu  sync.Mutex
	err error
}

func newEventStream() *eventStream {
	return &eventStream{ch: make(chan RawEvent)}
}

func (s *eventStream) Events() <-chan RawEvent {
	return s.ch
}

func (s *eventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *eventStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
