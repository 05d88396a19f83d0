package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultProbeTimeout = 10 * time.Second

// CandidateFailure records why one candidate could not be selected.
type CandidateFailure struct {
	ID     string
	Reason string
}

// NoBackendAvailableError is returned when every candidate was skipped or
// failed its probe. It is fatal: there is nothing left to fall back to.
type NoBackendAvailableError struct {
	Failures []CandidateFailure
}

func (e *NoBackendAvailableError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.ID, f.Reason))
	}
	return "no backend available: " + strings.Join(reasons, "; ")
}

// Notifier receives informational notices about skipped or failed
// candidates so the operator can see fallbacks happen.
type Notifier func(message string)

// SelectorConfig holds selector configuration.
type SelectorConfig struct {
	Candidates   []Candidate
	Factory      ClientFactory
	ProbeTimeout time.Duration
	Notify       Notifier
	Logger       zerolog.Logger
}

// Selector probes candidates in priority order and memoizes the result.
// A successful handle is reused across cycles until invalidated.
type Selector struct {
	candidates   []Candidate
	factory      ClientFactory
	probeTimeout time.Duration
	notify       Notifier
	logger       zerolog.Logger

	mu     sync.Mutex
	cached map[string]*Handle // keyed by canonical excluded set
}

// NewSelector creates a selector over the given candidates.
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("at least one backend candidate is required")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = Factory{}
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(string) {}
	}

	candidates := make([]Candidate, len(cfg.Candidates))
	copy(candidates, cfg.Candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	return &Selector{
		candidates:   candidates,
		factory:      factory,
		probeTimeout: probeTimeout,
		notify:       notify,
		logger:       cfg.Logger,
		cached:       make(map[string]*Handle),
	}, nil
}

// Select returns a handle to the first candidate, in priority order, whose
// probe succeeds. Candidates in excluded are skipped. The result is
// memoized per excluded set for the life of the process.
func (s *Selector) Select(ctx context.Context, excluded map[string]bool) (*Handle, error) {
	key := excludedKey(excluded)

	s.mu.Lock()
	if h, ok := s.cached[key]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	failures := []CandidateFailure{}
	for _, candidate := range s.candidates {
		if excluded[candidate.ID] {
			s.notify(fmt.Sprintf("backend %s excluded after failure, trying next...", candidate.ID))
			failures = append(failures, CandidateFailure{ID: candidate.ID, Reason: "excluded after failure"})
			continue
		}

		if err := s.probe(ctx, candidate); err != nil {
			s.logger.Warn().Str("backend", candidate.ID).Err(err).Msg("Backend unavailable, trying next")
			s.notify(fmt.Sprintf("backend %s unavailable, trying next...", candidate.ID))
			failures = append(failures, CandidateFailure{ID: candidate.ID, Reason: err.Error()})
			continue
		}

		client, err := s.factory.NewClient(candidate)
		if err != nil {
			failures = append(failures, CandidateFailure{ID: candidate.ID, Reason: err.Error()})
			continue
		}

		s.logger.Info().Str("backend", candidate.ID).Str("model", candidate.Model).Msg("Backend selected")
		handle := &Handle{Candidate: candidate, Client: client}
		s.mu.Lock()
		s.cached[key] = handle
		s.mu.Unlock()
		return handle, nil
	}

	return nil, &NoBackendAvailableError{Failures: failures}
}

// Invalidate drops every memoized handle bound to the given candidate, so
// the next Select probes again.
func (s *Selector) Invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, h := range s.cached {
		if h.Candidate.ID == id {
			delete(s.cached, key)
		}
	}
}

func (s *Selector) probe(ctx context.Context, candidate Candidate) error {
	client, err := s.factory.NewClient(candidate)
	if err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return client.Probe(probeCtx, candidate.Model)
}

func excludedKey(excluded map[string]bool) string {
	if len(excluded) == 0 {
		return ""
	}
	ids := make([]string, 0, len(excluded))
	for id, skip := range excluded {
		if skip {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
