package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/rescale/shellxfer/internal/events"
)

// TextRenderer prints one line when a task starts and one per outcome.
// Used when output is not a terminal.
type TextRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	taskID string
}

// NewTextRenderer creates a plain renderer writing to out.
func NewTextRenderer(out io.Writer) *TextRenderer {
	return &TextRenderer{out: out}
}

func (r *TextRenderer) Handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *events.ProgressEvent:
		if !e.Visible || e.TaskID == "" || e.TaskID == r.taskID {
			return
		}
		r.taskID = e.TaskID
		fmt.Fprintf(r.out, "%s...\n", describe(e))
	case *events.OutcomeEvent:
		if line := FormatOutcome(e); line != "" {
			fmt.Fprintln(r.out, line)
		}
		if e.Kind == events.OutcomeRetrying {
			// The retried attempt announces itself again.
			r.taskID = ""
		}
	}
}

func (r *TextRenderer) Writer() io.Writer { return r.out }

func (r *TextRenderer) Close() {}
