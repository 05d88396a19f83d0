package trace

import (
	"fmt"
	"io"
	"strings"
)

// Console writes rendered frames to the operator-facing stream. In rich
// mode the answer frame is redrawn in place on every token; tool blocks
// are printed once and never overwritten.
type Console struct {
	out         io.Writer
	mode        Mode
	answerLines int
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer, mode Mode) *Console {
	return &Console{out: out, mode: mode}
}

// Reset prepares the console for a new cycle. State is reset at cycle
// start so an aborted cycle cannot leak into the next one.
func (c *Console) Reset() {
	c.answerLines = 0
}

// Show displays one rendered frame. Frames are shown strictly in the order
// events were classified.
func (c *Console) Show(ev StreamEvent, frame string) {
	if c.mode == ModePlain {
		if frame != "" {
			fmt.Fprintln(c.out, frame)
		}
		return
	}

	switch ev.(type) {
	case AnswerTokenProduced:
		if c.answerLines > 0 {
			// Move the cursor back over the previous frame and clear it.
			fmt.Fprintf(c.out, "\x1b[%dA\x1b[0J", c.answerLines)
		}
		fmt.Fprintln(c.out, frame)
		c.answerLines = strings.Count(frame, "\n") + 1
	case StreamEnded:
		fmt.Fprintln(c.out)
		c.answerLines = 0
	default:
		// A discrete block. Whatever answer frame precedes it stays put;
		// subsequent answer frames draw below this block.
		c.answerLines = 0
		fmt.Fprintln(c.out, frame)
		fmt.Fprintln(c.out)
	}
}
