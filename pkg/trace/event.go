// Package trace is the execution tracer: it classifies the reasoning
// loop's raw event stream into a closed set of stream events, renders them
// incrementally, records each question/answer cycle, and recovers from
// transient backend failures by switching backends.
package trace

// Stream event kinds, used as the discriminator when records are
// serialized.
const (
	KindToolInvocation = "tool_invocation"
	KindToolResult     = "tool_result"
	KindAnswerToken    = "answer_token"
	KindStreamEnded    = "stream_ended"
)

// StreamEvent is one classified element of a cycle's event stream.
type StreamEvent interface {
	Kind() string
}

// ToolInvocationRequested signals the model asked to run a tool.
type ToolInvocationRequested struct {
	ToolName  string
	Arguments map[string]any
}

// Kind returns the event kind.
func (ToolInvocationRequested) Kind() string { return KindToolInvocation }

// ToolResultReceived carries a tool's verbatim payload. The payload is not
// re-validated here; parsing is the renderer's concern.
type ToolResultReceived struct {
	Raw string
}

// Kind returns the event kind.
func (ToolResultReceived) Kind() string { return KindToolResult }

// AnswerTokenProduced is a fragment to append to the answer, never a full
// replacement.
type AnswerTokenProduced struct {
	Text string
}

// Kind returns the event kind.
func (AnswerTokenProduced) Kind() string { return KindAnswerToken }

// StreamEnded marks the end of a cycle's event stream.
type StreamEnded struct{}

// Kind returns the event kind.
func (StreamEnded) Kind() string { return KindStreamEnded }

// eventEnvelope is the serialized form of a StreamEvent in session records.
type eventEnvelope struct {
	Kind      string         `json:"kind"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Payload   string         `json:"payload,omitempty"`
	Text      string         `json:"text,omitempty"`
}

func encodeEvent(ev StreamEvent) eventEnvelope {
	switch e := ev.(type) {
	case ToolInvocationRequested:
		return eventEnvelope{Kind: e.Kind(), Tool: e.ToolName, Arguments: e.Arguments}
	case ToolResultReceived:
		return eventEnvelope{Kind: e.Kind(), Payload: e.Raw}
	case AnswerTokenProduced:
		return eventEnvelope{Kind: e.Kind(), Text: e.Text}
	default:
		return eventEnvelope{Kind: ev.Kind()}
	}
}
