package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
)

// BarRenderer shows the active task as a single progressbar line on the
// permille scale, with the subtitle (bytes, speed, ETA) as its suffix.
type BarRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	bar    *progressbar.ProgressBar
	taskID string
}

// NewBarRenderer creates a bar renderer writing to out.
func NewBarRenderer(out io.Writer) *BarRenderer {
	return &BarRenderer{out: out}
}

func (r *BarRenderer) newBar(ev *events.ProgressEvent) *progressbar.ProgressBar {
	max := ev.Max
	if max <= 0 {
		max = constants.ProgressScaleMax
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetDescription(describe(ev)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (r *BarRenderer) Handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *events.ProgressEvent:
		if !e.Visible {
			r.clearLocked()
			return
		}
		if e.TaskID != r.taskID || r.bar == nil {
			r.clearLocked()
			r.bar = r.newBar(e)
			r.taskID = e.TaskID
		}
		r.bar.Describe(fmt.Sprintf("%s  %s", describe(e), e.Subtitle))
		_ = r.bar.Set(e.Progress)

	case *events.OutcomeEvent:
		if e.Kind.IsTerminal() && e.TaskID == r.taskID {
			if e.Kind == events.OutcomeFailed || e.Kind == events.OutcomeCanceled {
				_ = r.bar.Exit()
				r.bar = nil
				r.taskID = ""
			} else {
				r.clearLocked()
			}
		}
		if line := FormatOutcome(e); line != "" {
			if r.bar != nil {
				_ = r.bar.Clear()
			}
			fmt.Fprintln(r.out, line)
		}
	}
}

// clearLocked finishes and removes the current bar.
func (r *BarRenderer) clearLocked() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
	r.taskID = ""
}

func (r *BarRenderer) Writer() io.Writer { return r.out }

func (r *BarRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}
