package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/nalar/pkg/backend"
	"github.com/harun/nalar/pkg/reason"
)

// TracerConfig holds tracer configuration.
type TracerConfig struct {
	Loop     reason.Runner
	Renderer *Renderer
	Console  *Console
	// TracesDir receives one human-readable trace file per cycle.
	// Empty disables trace files.
	TracesDir string
	Logger    zerolog.Logger
}

// Tracer orchestrates one question/answer cycle: it feeds the question to
// the reasoning loop, classifies and renders every event, and fills in the
// cycle's session record.
type Tracer struct {
	loop      reason.Runner
	renderer  *Renderer
	console   *Console
	tracesDir string
	logger    zerolog.Logger
}

// NewTracer creates a tracer.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("reasoning loop is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.Console == nil {
		return nil, fmt.Errorf("console is required")
	}
	return &Tracer{
		loop:      cfg.Loop,
		renderer:  cfg.Renderer,
		console:   cfg.Console,
		tracesDir: cfg.TracesDir,
		logger:    cfg.Logger,
	}, nil
}

// RunCycle runs one cycle against the given backend, filling rec as events
// arrive. On stream end it closes the record and returns the final answer.
// A stream that terminates without its end marker is a truncated cycle; a
// backend error before any event is a transport failure.
func (t *Tracer) RunCycle(ctx context.Context, rec *SessionRecord, h *backend.Handle) (string, error) {
	// Render state is reset at cycle start, not cycle end, so a prior
	// abort cannot leak into a new question.
	state := NewRenderState()
	t.console.Reset()

	// The trace file always gets the plain rendering, whatever the
	// operator-facing mode is.
	fileRenderer := NewRenderer(ModePlain)
	fileState := NewRenderState()
	lines := []string{
		"Question: " + rec.Question,
		"Backend: " + rec.Backend,
		"Timestamp: " + rec.StartedAt.Format(time.RFC3339),
		strings.Repeat("-", 60),
	}

	stream, err := t.loop.Stream(ctx, rec.Question, h)
	if err != nil {
		rec.Close("", time.Now())
		return "", &CycleFailure{Kind: FailureTransport, Cause: err}
	}

	ended := false
	sawEvent := false
	for raw := range stream.Events() {
		ev, ok := Classify(raw)
		if !ok {
			continue
		}
		sawEvent = true
		rec.Append(ev)

		var frame string
		state, frame = t.renderer.Apply(state, ev)
		t.console.Show(ev, frame)

		var line string
		fileState, line = fileRenderer.Apply(fileState, ev)
		if line != "" {
			lines = append(lines, line)
		}

		if ev.Kind() == KindStreamEnded {
			ended = true
		}
	}

	rec.Close(state.AnswerBuffer, time.Now())
	t.saveTraceFile(rec, lines)

	if ended {
		return state.AnswerBuffer, nil
	}
	if ctx.Err() != nil {
		return state.AnswerBuffer, &CycleFailure{Kind: FailureOther, Cause: ctx.Err()}
	}
	if err := stream.Err(); err != nil {
		if !sawEvent {
			return "", &CycleFailure{Kind: FailureTransport, Cause: err}
		}
		return "", &CycleFailure{Kind: FailureTruncated, Cause: err}
	}
	return "", &CycleFailure{Kind: FailureTruncated}
}

// saveTraceFile persists the cycle's plain trace under the traces dir.
// Failures are logged, never surfaced: the trace file is best effort.
func (t *Tracer) saveTraceFile(rec *SessionRecord, lines []string) {
	if t.tracesDir == "" {
		return
	}
	if err := os.MkdirAll(t.tracesDir, 0o700); err != nil {
		t.logger.Debug().Err(err).Msg("Could not create traces directory")
		return
	}
	suffix, err := gonanoid.New(8)
	if err != nil {
		suffix = rec.ID[:8]
	}
	name := fmt.Sprintf("trace_%s_%s.txt", rec.StartedAt.Format("20060102_150405"), suffix)
	path := filepath.Join(t.tracesDir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.logger.Debug().Err(err).Msg("Could not save trace file")
		return
	}
	t.logger.Info().Str("path", path).Msg("Trace saved")
}
