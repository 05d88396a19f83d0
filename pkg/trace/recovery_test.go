package trace

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nalar/pkg/backend"
	"github.com/harun/nalar/pkg/reason"
)

// probeClient is always reachable; Chat is never called through it because
// the scripted runner short-circuits the cycle.
type probeClient struct{}

func (probeClient) Probe(ctx context.Context, model string) error { return nil }
func (probeClient) Chat(ctx context.Context, req backend.ChatRequest, emit func(backend.Chunk) error) error {
	return nil
}
func (probeClient) Provider() string { return "test" }

type probeFactory struct{}

func (probeFactory) NewClient(c backend.Candidate) (backend.Client, error) {
	return probeClient{}, nil
}

func newTestSelector(t *testing.T, ids ...string) *backend.Selector {
	t.Helper()
	candidates := make([]backend.Candidate, 0, len(ids))
	for i, id := range ids {
		candidates = append(candidates, backend.Candidate{
			ID:       id,
			Provider: "test",
			Model:    "m",
			Priority: i + 1,
		})
	}
	selector, err := backend.NewSelector(backend.SelectorConfig{
		Candidates: candidates,
		Factory:    probeFactory{},
	})
	require.NoError(t, err)
	return selector
}

type recoveryFixture struct {
	recovery *Recovery
	runner   *scriptedRunner
	log      *Log
	notices  []string
}

func newRecoveryFixture(t *testing.T, runner *scriptedRunner, ids ...string) *recoveryFixture {
	t.Helper()
	fx := &recoveryFixture{runner: runner, log: NewLog()}

	out := &bytes.Buffer{}
	tracer, err := NewTracer(TracerConfig{
		Loop:     runner,
		Renderer: NewRenderer(ModePlain),
		Console:  NewConsole(out, ModePlain),
	})
	require.NoError(t, err)

	fx.recovery, err = NewRecovery(RecoveryConfig{
		Selector: newTestSelector(t, ids...),
		Tracer:   tracer,
		Log:      fx.log,
		Notify:   func(msg string) { fx.notices = append(fx.notices, msg) },
	})
	require.NoError(t, err)
	return fx
}

func TestRecoveryAsk(t *testing.T) {
	t.Run("should answer and log exactly one record on success", func(t *testing.T) {
		runner := &scriptedRunner{streams: map[string]*scriptedStream{
			"A": {events: completedCycle()},
		}}
		fx := newRecoveryFixture(t, runner, "A", "B")

		answer, err := fx.recovery.Ask(context.Background(), "X")
		require.NoError(t, err)
		assert.Equal(t, "TL;DR: ok", answer)
		assert.Equal(t, StateSucceeded, fx.recovery.State())

		records := fx.log.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "A", records[0].Backend)
		assert.Equal(t, "TL;DR: ok", records[0].FinalAnswer)
		assert.Equal(t, []string{"A"}, runner.calls)
	})

	t.Run("should retry once on an overloaded backend", func(t *testing.T) {
		runner := &scriptedRunner{
			errs: map[string]error{"A": errors.New("503 service unavailable")},
			streams: map[string]*scriptedStream{
				"B": {events: []reason.RawEvent{
					{Kind: reason.RawDelta, Text: "from B"},
					{Kind: reason.RawDone},
				}},
			},
		}
		fx := newRecoveryFixture(t, runner, "A", "B")

		answer, err := fx.recovery.Ask(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "from B", answer)
		assert.Equal(t, []string{"A", "B"}, runner.calls)

		// one record per question, carrying the backend that answered
		records := fx.log.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "B", records[0].Backend)
		assert.Equal(t, "from B", records[0].FinalAnswer)

		assert.Contains(t, fx.notices, "backend A is overloaded, switching...")
	})

	t.Run("should give up after one failed retry", func(t *testing.T) {
		runner := &scriptedRunner{errs: map[string]error{
			"A": errors.New("503 service unavailable"),
			"B": errors.New("502 bad gateway"),
		}}
		fx := newRecoveryFixture(t, runner, "A", "B")

		_, err := fx.recovery.Ask(context.Background(), "q")

		var askErr *AskError
		require.ErrorAs(t, err, &askErr)
		assert.True(t, askErr.Retried)
		assert.Equal(t, StateFailed, fx.recovery.State())
		assert.Equal(t, []string{"A", "B"}, runner.calls, "retries never recurse")
		assert.Len(t, fx.log.Records(), 1)
	})

	t.Run("should not retry when rate limited", func(t *testing.T) {
		runner := &scriptedRunner{errs: map[string]error{
			"A": errors.New("429 too many requests"),
		}}
		fx := newRecoveryFixture(t, runner, "A", "B")

		_, err := fx.recovery.Ask(context.Background(), "q")

		var askErr *AskError
		require.ErrorAs(t, err, &askErr)
		assert.Equal(t, FailureRateLimited, askErr.Kind)
		assert.False(t, askErr.Retried)
		assert.Equal(t, []string{"A"}, runner.calls)
	})

	t.Run("should surface no fallback when only one backend exists", func(t *testing.T) {
		runner := &scriptedRunner{errs: map[string]error{
			"A": errors.New("server overloaded"),
		}}
		fx := newRecoveryFixture(t, runner, "A")

		_, err := fx.recovery.Ask(context.Background(), "q")

		var askErr *AskError
		require.ErrorAs(t, err, &askErr)
		assert.Equal(t, FailureOverloaded, askErr.Kind)
		assert.Contains(t, fx.notices, "backend A is failing and no fallback is available")
		assert.Len(t, fx.log.Records(), 1)
	})

	t.Run("should report an interruption without retrying", func(t *testing.T) {
		runner := &scriptedRunner{errs: map[string]error{
			"A": context.Canceled,
		}}
		fx := newRecoveryFixture(t, runner, "A", "B")

		_, err := fx.recovery.Ask(context.Background(), "q")

		var askErr *AskError
		require.ErrorAs(t, err, &askErr)
		assert.True(t, askErr.Interrupted)
		assert.Equal(t, []string{"A"}, runner.calls)
	})

	t.Run("should not reveal transport details in user-facing errors", func(t *testing.T) {
		runner := &scriptedRunner{errs: map[string]error{
			"A": errors.New("dial tcp 10.0.0.3:443: i/o timeout"),
		}}
		fx := newRecoveryFixture(t, runner, "A")

		_, err := fx.recovery.Ask(context.Background(), "q")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "10.0.0.3")
		assert.NotContains(t, err.Error(), "dial tcp")
	})
}

func TestRecoveryClassify(t *testing.T) {
	fx := newRecoveryFixture(t, &scriptedRunner{}, "A")

	t.Run("should check rate limit signatures before overloaded ones", func(t *testing.T) {
		// "429" and "503" can appear together in proxy error chains.
		err := &CycleFailure{Kind: FailureTransport, Cause: errors.New("503 upstream returned 429 rate limit")}
		assert.Equal(t, FailureRateLimited, fx.recovery.classify(err))
	})

	t.Run("should keep the original kind when no signature matches", func(t *testing.T) {
		err := &CycleFailure{Kind: FailureTruncated, Cause: errors.New("unexpected EOF")}
		assert.Equal(t, FailureTruncated, fx.recovery.classify(err))
	})

	t.Run("should use the kind directly when there is no cause", func(t *testing.T) {
		err := &CycleFailure{Kind: FailureTruncated}
		assert.Equal(t, FailureTruncated, fx.recovery.classify(err))
	})

	t.Run("should treat foreign errors as other failures", func(t *testing.T) {
		assert.Equal(t, FailureOther, fx.recovery.classify(errors.New("boom")))
	})
}

func TestRecoveryCustomSignatures(t *testing.T) {
	t.Run("should honor an injected signature set", func(t *testing.T) {
		runner := &scriptedRunner{
			errs: map[string]error{"A": errors.New("custom capacity marker hit")},
			streams: map[string]*scriptedStream{
				"B": {events: []reason.RawEvent{
					{Kind: reason.RawDelta, Text: "ok"},
					{Kind: reason.RawDone},
				}},
			},
		}

		out := &bytes.Buffer{}
		tracer, err := NewTracer(TracerConfig{
			Loop:     runner,
			Renderer: NewRenderer(ModePlain),
			Console:  NewConsole(out, ModePlain),
		})
		require.NoError(t, err)

		recovery, err := NewRecovery(RecoveryConfig{
			Selector: newTestSelector(t, "A", "B"),
			Tracer:   tracer,
			Log:      NewLog(),
			Signatures: Signatures{
				Overloaded:  []string{"custom capacity marker"},
				RateLimited: []string{"slow down"},
			},
		})
		require.NoError(t, err)

		answer, err := recovery.Ask(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "ok", answer)
		assert.Equal(t, []string{"A", "B"}, runner.calls)
	})
}
