package trace

import "fmt"

// FailureKind classifies why a cycle failed.
type FailureKind int

// Failure kinds.
const (
	FailureTransport FailureKind = iota
	FailureTruncated
	FailureOverloaded
	FailureRateLimited
	FailureOther
)

// String returns the kind's name.
func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureTruncated:
		return "truncated"
	case FailureOverloaded:
		return "overloaded"
	case FailureRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// CycleFailure scopes a failure to one question. It never ends the
// interactive session; the next question starts a fresh cycle.
type CycleFailure struct {
	Kind  FailureKind
	Cause error
}

func (e *CycleFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cycle failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("cycle failed (%s)", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *CycleFailure) Unwrap() error {
	return e.Cause
}
