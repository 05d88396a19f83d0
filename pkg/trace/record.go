package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is the structured trace of one question/answer cycle.
// It is created at cycle start, appended to incrementally, and closed on
// stream end or unrecoverable failure. One record exists per question.
type SessionRecord struct {
	ID          string
	Question    string
	Events      []StreamEvent
	FinalAnswer string
	StartedAt   time.Time
	EndedAt     *time.Time
	Backend     string
}

// NewSessionRecord opens a record for one question.
func NewSessionRecord(question, backendID string) *SessionRecord {
	return &SessionRecord{
		ID:        uuid.New().String(),
		Question:  question,
		StartedAt: time.Now(),
		Backend:   backendID,
	}
}

// Append adds a classified event to the record.
func (r *SessionRecord) Append(ev StreamEvent) {
	r.Events = append(r.Events, ev)
}

// Close finalizes the record. Closing an already-closed record is a no-op
// so a record is never mutated after closing.
func (r *SessionRecord) Close(finalAnswer string, at time.Time) {
	if r.EndedAt != nil {
		return
	}
	r.FinalAnswer = finalAnswer
	r.EndedAt = &at
}

// Closed reports whether the record has been finalized.
func (r *SessionRecord) Closed() bool {
	return r.EndedAt != nil
}

// Restart reopens the record for a retry against a different backend. The
// question and start time are kept; events from the failed attempt are
// dropped so the retry does not create a duplicate record.
func (r *SessionRecord) Restart(backendID string) {
	r.Events = nil
	r.FinalAnswer = ""
	r.EndedAt = nil
	r.Backend = backendID
}

// MarshalJSON serializes the record with tagged event envelopes.
func (r *SessionRecord) MarshalJSON() ([]byte, error) {
	events := make([]eventEnvelope, 0, len(r.Events))
	for _, ev := range r.Events {
		events = append(events, encodeEvent(ev))
	}
	return json.Marshal(struct {
		ID          string          `json:"id"`
		Question    string          `json:"question"`
		Events      []eventEnvelope `json:"events"`
		FinalAnswer string          `json:"final_answer,omitempty"`
		StartedAt   time.Time       `json:"started_at"`
		EndedAt     *time.Time      `json:"ended_at,omitempty"`
		Backend     string          `json:"backend"`
	}{
		ID:          r.ID,
		Question:    r.Question,
		Events:      events,
		FinalAnswer: r.FinalAnswer,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Backend:     r.Backend,
	})
}

// Log is the process's append-only, in-memory session log.
type Log struct {
	mu      sync.Mutex
	records []*SessionRecord
}

// NewLog creates an empty session log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a record to the log.
func (l *Log) Append(rec *SessionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns the logged records in order.
func (l *Log) Records() []*SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*SessionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of logged records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sink is an append-only destination for completed session records.
type Sink interface {
	Append(rec *SessionRecord) error
	Close() error
}

// JSONLSink persists one serialized record per line, written and flushed
// per record so a crash cannot corrupt prior entries.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink opens (or creates) the session log file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return &JSONLSink{file: file}, nil
}

// Append writes one record as a single line.
func (s *JSONLSink) Append(rec *SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize session record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
