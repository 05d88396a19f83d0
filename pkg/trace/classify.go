package trace

import "github.com/harun/nalar/pkg/reason"

// Classify maps one raw loop event to a StreamEvent. It is pure and
// stateless: identical input always yields identical output.
//
// The predicates are checked in order because some raw shapes could satisfy
// more than one. Raw events matching none of them return ok=false and are
// dropped, so unknown future kinds cannot crash the pipeline.
func Classify(raw reason.RawEvent) (StreamEvent, bool) {
	switch {
	case raw.Kind == reason.RawToolCall && raw.ToolName != "":
		return ToolInvocationRequested{ToolName: raw.ToolName, Arguments: raw.ToolArgs}, true
	case raw.Kind == reason.RawToolResult:
		return ToolResultReceived{Raw: raw.Payload}, true
	case raw.Kind == reason.RawDelta && raw.Text != "":
		return AnswerTokenProduced{Text: raw.Text}, true
	case raw.Kind == reason.RawDone:
		return StreamEnded{}, true
	default:
		return nil, false
	}
}
