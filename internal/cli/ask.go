package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/nalar/internal/config"
	"github.com/harun/nalar/internal/logger"
	"github.com/harun/nalar/pkg/backend"
	"github.com/harun/nalar/pkg/reason"
	"github.com/harun/nalar/pkg/search"
	"github.com/harun/nalar/pkg/trace"
)

const banner = `
╔══════════════════════════════════════════════╗
║   Nalar — web-research assistant             ║
║   Backends: Groq (Kimi K2, GPT OSS 120B)     ║
║   Search: Tavily                             ║
╚══════════════════════════════════════════════╝

  Type your research question and press Enter.
  Commands:  quit / exit / q  →  leave
             clear            →  clear screen
`

// session bundles the per-process components. It is rebuilt when the
// config file changes on disk; the session log and sink live for the whole
// process.
type session struct {
	cfg      *config.Config
	recovery *trace.Recovery
}

func runAsk(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	if err := checkEnv(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sessionLog := trace.NewLog()
	sink, err := trace.NewJSONLSink(cfg.SessionLogPath())
	if err != nil {
		return err
	}
	defer sink.Close()

	sess, err := newSession(cfg, zl, out, sessionLog, sink)
	if err != nil {
		return err
	}

	// Config changes apply between cycles: the watcher parks the new
	// config here and the REPL picks it up before the next question.
	var pending atomic.Pointer[config.Config]
	watchCtx, stopWatch := context.WithCancel(cmd.Context())
	defer stopWatch()
	if watcher, werr := config.NewWatcher(loader, zl); werr == nil {
		defer watcher.Close()
		go func() {
			_ = watcher.Watch(watchCtx, func(next *config.Config) {
				pending.Store(next)
			})
		}()
	} else {
		zl.Warn().Err(werr).Msg("Config watching disabled")
	}

	fmt.Fprint(out, banner)
	return repl(cmd.Context(), cmd.InOrStdin(), out, sess, &pending, zl, sessionLog, sink)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, sess *session, pending *atomic.Pointer[config.Config], zl zerolog.Logger, sessionLog *trace.Log, sink trace.Sink) error {
	scanner := bufio.NewScanner(in)
	for {
		if next := pending.Swap(nil); next != nil {
			if rebuilt, err := newSession(next, zl, out, sessionLog, sink); err == nil {
				sess = rebuilt
				fmt.Fprintln(out, "configuration reloaded")
			} else {
				zl.Warn().Err(err).Msg("Keeping previous configuration")
			}
		}

		fmt.Fprint(out, "ask> ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\ngoodbye!")
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(question) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(out, "goodbye!")
			return nil
		case "clear":
			fmt.Fprint(out, "\x1b[2J\x1b[H")
			fmt.Fprint(out, banner)
			continue
		}

		fmt.Fprintln(out)
		if err := askOne(ctx, out, sess, question); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
}

// askOne runs one question→answer cycle. Only NoBackendAvailable ends the
// session; every other failure is reported and the prompt returns.
func askOne(ctx context.Context, out io.Writer, sess *session, question string) error {
	// An interrupt aborts the current cycle, not the process.
	cycleCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	_, err := sess.recovery.Ask(cycleCtx, question)
	if err == nil {
		return nil
	}

	var unavailable *backend.NoBackendAvailableError
	if errors.As(err, &unavailable) {
		fmt.Fprintf(out, "error: %s\n", unavailable)
		return fmt.Errorf("all backends are unavailable")
	}
	fmt.Fprintf(out, "error: %s\n", err)
	return nil
}

func newSession(cfg *config.Config, zl zerolog.Logger, out io.Writer, sessionLog *trace.Log, sink trace.Sink) (*session, error) {
	notify := func(message string) {
		fmt.Fprintf(out, "! %s\n", message)
	}

	candidates := make([]backend.Candidate, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		candidates = append(candidates, backend.Candidate{
			ID:       b.ID,
			Provider: b.Provider,
			Model:    b.Model,
			BaseURL:  b.BaseURL,
			APIKey:   os.Getenv(b.APIKeyEnv),
			Priority: b.Priority,
		})
	}
	selector, err := backend.NewSelector(backend.SelectorConfig{
		Candidates:   candidates,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		Notify:       notify,
		Logger:       zl,
	})
	if err != nil {
		return nil, err
	}

	provider := search.NewTavily(os.Getenv(cfg.Search.APIKeyEnv), search.WithDepth(cfg.Search.Depth))
	loop, err := reason.NewLoop(reason.Config{
		Search:        provider,
		Logger:        zl,
		MaxIterations: cfg.Loop.MaxIterations,
		MaxResults:    cfg.Search.MaxResults,
		Temperature:   cfg.Loop.Temperature,
		MaxTokens:     cfg.Loop.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	mode := trace.ModeRich
	if plainOutput || cfg.Render.Mode == "plain" {
		mode = trace.ModePlain
	}
	tracer, err := trace.NewTracer(trace.TracerConfig{
		Loop:      loop,
		Renderer:  trace.NewRenderer(mode),
		Console:   trace.NewConsole(out, mode),
		TracesDir: cfg.TracesDir(),
		Logger:    zl,
	})
	if err != nil {
		return nil, err
	}

	recovery, err := trace.NewRecovery(trace.RecoveryConfig{
		Selector: selector,
		Tracer:   tracer,
		Log:      sessionLog,
		Sink:     sink,
		Signatures: trace.Signatures{
			Overloaded:  cfg.Recovery.OverloadedSignatures,
			RateLimited: cfg.Recovery.RateLimitedSignatures,
		},
		Notify: notify,
		Logger: zl,
	})
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, recovery: recovery}, nil
}

// checkEnv verifies that every configured API key variable is set.
func checkEnv(cfg *config.Config) error {
	required := map[string]bool{}
	for _, b := range cfg.Backends {
		if b.APIKeyEnv != "" {
			required[b.APIKeyEnv] = true
		}
	}
	if cfg.Search.APIKeyEnv != "" {
		required[cfg.Search.APIKeyEnv] = true
	}

	missing := []string{}
	for name := range required {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
