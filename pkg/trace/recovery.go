package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/nalar/pkg/backend"
)

// RecoveryState is the recovery policy's state for the current question.
type RecoveryState int

// Recovery states.
const (
	StateIdle RecoveryState = iota
	StateProbing
	StateRunning
	StateRetrying
	StateSucceeded
	StateFailed
)

// Signatures is the injectable set of error signatures that classify a
// cycle failure as transient. Matching is by case-insensitive substring of
// the failure's cause, the way the backends' error surfaces spell it.
type Signatures struct {
	Overloaded  []string
	RateLimited []string
}

// DefaultSignatures returns the default signature set.
func DefaultSignatures() Signatures {
	return Signatures{
		Overloaded:  []string{"500", "502", "503", "504", "overloaded", "over capacity", "service unavailable", "connection refused"},
		RateLimited: []string{"429", "rate limit", "rate_limit"},
	}
}

// AskError is the user-visible outcome of a failed question. It carries
// the cause kind but never raw transport details.
type AskError struct {
	Kind        FailureKind
	Retried     bool
	Interrupted bool
}

func (e *AskError) Error() string {
	switch {
	case e.Interrupted:
		return "interrupted; ask again when ready"
	case e.Kind == FailureRateLimited:
		return "the backend is rate limited; wait a moment before asking again"
	case e.Kind == FailureOverloaded && e.Retried:
		return "switched backend but it is still failing; try again later"
	case e.Kind == FailureOverloaded:
		return "the backend is overloaded and no fallback is available"
	case e.Kind == FailureTruncated:
		return "the backend disconnected before finishing its answer"
	default:
		return "the question could not be answered; try again"
	}
}

// RecoveryConfig holds recovery policy configuration.
type RecoveryConfig struct {
	Selector   *backend.Selector
	Tracer     *Tracer
	Log        *Log
	Sink       Sink // optional
	Signatures Signatures
	Notify     func(message string)
	Logger     zerolog.Logger
}

// Recovery wraps the tracer with the failure recovery policy: overloaded
// backends trigger one re-selection and retry, rate limits surface an
// advisory without retrying, and everything else fails the cycle only.
type Recovery struct {
	selector *backend.Selector
	tracer   *Tracer
	log      *Log
	sink     Sink
	sigs     Signatures
	notify   func(string)
	logger   zerolog.Logger
	state    RecoveryState
}

// NewRecovery creates a recovery policy.
func NewRecovery(cfg RecoveryConfig) (*Recovery, error) {
	if cfg.Selector == nil {
		return nil, fmt.Errorf("backend selector is required")
	}
	if cfg.Tracer == nil {
		return nil, fmt.Errorf("tracer is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("session log is required")
	}
	sigs := cfg.Signatures
	if len(sigs.Overloaded) == 0 && len(sigs.RateLimited) == 0 {
		sigs = DefaultSignatures()
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(string) {}
	}
	return &Recovery{
		selector: cfg.Selector,
		tracer:   cfg.Tracer,
		log:      cfg.Log,
		sink:     cfg.Sink,
		sigs:     sigs,
		notify:   notify,
		logger:   cfg.Logger,
		state:    StateIdle,
	}, nil
}

// State returns the policy's state for the current question.
func (r *Recovery) State() RecoveryState {
	return r.state
}

// Ask answers one question, retrying at most once on an overloaded
// backend. Exactly one session record is logged per question, whatever the
// outcome. A *backend.NoBackendAvailableError is fatal and passed through.
func (r *Recovery) Ask(ctx context.Context, question string) (string, error) {
	r.state = StateProbing
	handle, err := r.selector.Select(ctx, nil)
	if err != nil {
		r.state = StateFailed
		return "", err
	}

	rec := NewSessionRecord(question, handle.Candidate.ID)
	defer r.record(rec)

	r.state = StateRunning
	answer, err := r.tracer.RunCycle(ctx, rec, handle)
	if err == nil {
		r.state = StateSucceeded
		return answer, nil
	}
	if errors.Is(err, context.Canceled) {
		r.state = StateFailed
		return answer, &AskError{Interrupted: true}
	}

	kind := r.classify(err)
	switch kind {
	case FailureOverloaded:
		return r.retry(ctx, rec, handle.Candidate.ID)
	case FailureRateLimited:
		r.state = StateFailed
		r.notify("backend is rate limited; wait a moment before asking again")
		return "", &AskError{Kind: FailureRateLimited}
	default:
		r.state = StateFailed
		r.logger.Error().Err(err).Str("backend", handle.Candidate.ID).Msg("Cycle failed")
		return "", &AskError{Kind: kind}
	}
}

// retry re-selects with the failed backend excluded and re-runs the cycle
// exactly once. Retries never recurse.
func (r *Recovery) retry(ctx context.Context, rec *SessionRecord, failedID string) (string, error) {
	r.state = StateRetrying
	r.notify(fmt.Sprintf("backend %s is overloaded, switching...", failedID))
	r.selector.Invalidate(failedID)

	handle, err := r.selector.Select(ctx, map[string]bool{failedID: true})
	if err != nil {
		r.state = StateFailed
		var unavailable *backend.NoBackendAvailableError
		if errors.As(err, &unavailable) {
			r.notify(fmt.Sprintf("backend %s is failing and no fallback is available", failedID))
			return "", &AskError{Kind: FailureOverloaded}
		}
		return "", err
	}

	rec.Restart(handle.Candidate.ID)
	answer, err := r.tracer.RunCycle(ctx, rec, handle)
	if err == nil {
		r.state = StateSucceeded
		return answer, nil
	}

	r.state = StateFailed
	r.notify("switched backend but it is still failing")
	r.logger.Error().Err(err).Str("backend", handle.Candidate.ID).Msg("Retry cycle failed")
	return "", &AskError{Kind: r.classify(err), Retried: true}
}

// record appends the question's single session record to the in-memory
// log and the sink.
func (r *Recovery) record(rec *SessionRecord) {
	r.log.Append(rec)
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(rec); err != nil {
		r.logger.Error().Err(err).Msg("Failed to persist session record")
	}
}

// classify refines a cycle failure against the transient signature set.
func (r *Recovery) classify(err error) FailureKind {
	var failure *CycleFailure
	if !errors.As(err, &failure) {
		return FailureOther
	}
	if failure.Cause == nil {
		return failure.Kind
	}
	msg := strings.ToLower(failure.Cause.Error())
	for _, sig := range r.sigs.RateLimited {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return FailureRateLimited
		}
	}
	for _, sig := range r.sigs.Overloaded {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return FailureOverloaded
		}
	}
	return failure.Kind
}
