package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Mode selects the renderer's output style. Plain mode is one line per
// event with no markup, for headless and test consumption.
type Mode string

// Renderer modes.
const (
	ModePlain Mode = "plain"
	ModeRich  Mode = "rich"
)

// BlockKind identifies the last block the renderer emitted.
type BlockKind int

// Block kinds.
const (
	BlockNone BlockKind = iota
	BlockTool
	BlockToolResult
	BlockAnswer
)

// RenderState is the renderer's per-cycle state. The answer buffer only
// grows within a cycle; it is reset at cycle start.
type RenderState struct {
	AnswerBuffer string
	LastBlock    BlockKind
}

// NewRenderState returns a fresh state for a new cycle.
func NewRenderState() RenderState {
	return RenderState{}
}

// payloadDisplayLimit is the display size threshold for tool results,
// in runes.
const payloadDisplayLimit = 400

type theme struct {
	toolPanel    lipgloss.Style
	toolTitle    lipgloss.Style
	resultPanel  lipgloss.Style
	resultTitle  lipgloss.Style
	answerPanel  lipgloss.Style
	answerTitle  lipgloss.Style
}

func newTheme() theme {
	yellow := lipgloss.Color("3")
	blue := lipgloss.Color("4")
	green := lipgloss.Color("2")

	return theme{
		toolPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(yellow).
			Padding(0, 1),
		toolTitle: lipgloss.NewStyle().Foreground(yellow).Bold(true),
		resultPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		resultTitle: lipgloss.NewStyle().Foreground(blue).Bold(true),
		answerPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(green).
			Padding(0, 1),
		answerTitle: lipgloss.NewStyle().Foreground(green).Bold(true),
	}
}

// Renderer turns classified stream events into display frames. Apply is a
// pure function of (state, event); the same pair always yields the same
// result.
type Renderer struct {
	mode     Mode
	styles   theme
	markdown func(string) (string, error)
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithMarkdown overrides the markdown renderer. Used in tests.
func WithMarkdown(render func(string) (string, error)) RendererOption {
	return func(r *Renderer) { r.markdown = render }
}

// NewRenderer creates a renderer for the given mode.
func NewRenderer(mode Mode, opts ...RendererOption) *Renderer {
	r := &Renderer{
		mode:   mode,
		styles: newTheme(),
		markdown: func(text string) (string, error) {
			return glamour.Render(text, "dark")
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply renders one event against the current state and returns the new
// state plus the frame to display. Tool blocks are discrete; answer tokens
// re-render the whole buffer so partial markup still degrades to readable
// text.
func (r *Renderer) Apply(state RenderState, event StreamEvent) (RenderState, string) {
	switch ev := event.(type) {
	case ToolInvocationRequested:
		state.LastBlock = BlockTool
		return state, r.renderTool(ev)
	case ToolResultReceived:
		state.LastBlock = BlockToolResult
		return state, r.renderToolResult(ev)
	case AnswerTokenProduced:
		state.AnswerBuffer += ev.Text
		state.LastBlock = BlockAnswer
		return state, r.renderAnswer(state.AnswerBuffer)
	case StreamEnded:
		return state, r.renderEnd(state.AnswerBuffer)
	default:
		return state, ""
	}
}

func (r *Renderer) renderTool(ev ToolInvocationRequested) string {
	args, err := json.Marshal(ev.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	if r.mode == ModePlain {
		return fmt.Sprintf("tool call: %s %s", ev.ToolName, args)
	}
	body := fmt.Sprintf("Searching: %s %s", ev.ToolName, args)
	return r.styles.toolTitle.Render("Tool") + "\n" + r.styles.toolPanel.Render(body)
}

func (r *Renderer) renderToolResult(ev ToolResultReceived) string {
	if r.mode == ModePlain {
		preview := strings.ReplaceAll(truncatePayload(ev.Raw, payloadDisplayLimit), "\n", " ")
		return "tool result: " + preview
	}
	body := formatResults(ev.Raw)
	return r.styles.resultTitle.Render("Search Results") + "\n" + r.styles.resultPanel.Render(body)
}

func (r *Renderer) renderAnswer(buffer string) string {
	if r.mode == ModePlain {
		return "answer token"
	}
	body, err := r.markdown(buffer)
	if err != nil {
		// Unparseable structured text degrades to the raw buffer.
		body = buffer
	}
	body = strings.TrimRight(body, "\n")
	return r.styles.answerTitle.Render("Answer") + "\n" + r.styles.answerPanel.Render(body)
}

func (r *Renderer) renderEnd(buffer string) string {
	if r.mode == ModePlain {
		return "final answer:\n" + buffer
	}
	return ""
}

// resultEntry mirrors the shape the web_search tool returns. Missing
// fields stay zero-valued and render as defaults.
type resultEntry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Error   string `json:"error"`
}

// formatResults renders a tool result payload for display. Structured
// search results become a numbered list with defaults substituted for
// missing fields; anything else is shown truncated.
func formatResults(raw string) string {
	var entries []resultEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		var single resultEntry
		if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Error != "" {
			return "search error: " + single.Error
		}
		return truncatePayload(raw, payloadDisplayLimit)
	}
	if len(entries) == 0 {
		return "(no results)"
	}

	var b strings.Builder
	for i, entry := range entries {
		title := entry.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		if entry.URL != "" {
			fmt.Fprintf(&b, "   %s\n", entry.URL)
		}
		if entry.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", truncatePayload(entry.Snippet, 200))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncatePayload shortens a payload for display. JSON arrays are cut on
// element boundaries and JSON objects on field boundaries so the result is
// still valid JSON; other text is cut on a rune boundary with an ellipsis.
func truncatePayload(raw string, limit int) string {
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		kept := []json.RawMessage{}
		size := 2 // brackets
		for _, item := range items {
			size += len(item) + 1
			if size > limit && len(kept) > 0 {
				break
			}
			kept = append(kept, item)
		}
		out, err := json.Marshal(kept)
		if err == nil {
			return string(out)
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err == nil && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		kept := map[string]json.RawMessage{}
		size := 2 // braces
		for _, k := range keys {
			size += len(k) + len(fields[k]) + 4 // quotes, colon, comma
			if size > limit && len(kept) > 0 {
				break
			}
			kept[k] = fields[k]
		}
		out, err := json.Marshal(kept)
		if err == nil {
			return string(out)
		}
	}

	runes := []rune(raw)
	return string(runes[:limit]) + "…"
}
