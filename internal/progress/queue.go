package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
)

// QueueRenderer shows the active task as an mpb bar labelled with the queue
// counter. Outcome lines are printed above the bar.
type QueueRenderer struct {
	progress *mpb.Progress

	mu     sync.Mutex // guards bar and taskID
	bar    *mpb.Bar
	taskID string

	// label is read by mpb's render goroutine; it has its own lock so bar
	// calls are never made while holding it.
	labelMu  sync.Mutex
	label    string
	subtitle string
}

// NewQueueRenderer creates a queue renderer writing to out.
func NewQueueRenderer(out io.Writer) *QueueRenderer {
	return &QueueRenderer{
		progress: mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(200*time.Millisecond),
			mpb.WithWidth(100),
		),
	}
}

func (r *QueueRenderer) setLabels(label, subtitle string) {
	r.labelMu.Lock()
	r.label = label
	r.subtitle = subtitle
	r.labelMu.Unlock()
}

func (r *QueueRenderer) labels() (string, string) {
	r.labelMu.Lock()
	defer r.labelMu.Unlock()
	return r.label, r.subtitle
}

func (r *QueueRenderer) newBar(max int) *mpb.Bar {
	if max <= 0 {
		max = constants.ProgressScaleMax
	}
	return r.progress.New(int64(max),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				label, _ := r.labels()
				return label
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				pct := 0.0
				if s.Total > 0 {
					pct = float64(s.Current) / float64(s.Total) * 100
				}
				return fmt.Sprintf("%5.1f%%", pct)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				_, subtitle := r.labels()
				return subtitle
			}),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (r *QueueRenderer) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.ProgressEvent:
		r.mu.Lock()
		defer r.mu.Unlock()
		if !e.Visible {
			r.dropLocked(true)
			return
		}
		r.setLabels(describe(e), e.Subtitle)
		if e.TaskID != r.taskID || r.bar == nil {
			r.dropLocked(false)
			r.bar = r.newBar(e.Max)
			r.taskID = e.TaskID
		}
		r.bar.SetCurrent(int64(e.Progress))

	case *events.OutcomeEvent:
		r.mu.Lock()
		if e.Kind.IsTerminal() && e.TaskID == r.taskID {
			success := e.Kind != events.OutcomeFailed && e.Kind != events.OutcomeCanceled
			r.dropLocked(success)
		}
		r.mu.Unlock()
		if line := FormatOutcome(e); line != "" {
			fmt.Fprintln(r.progress, line)
		}
	}
}

// dropLocked completes (or aborts) and removes the current bar.
func (r *QueueRenderer) dropLocked(complete bool) {
	if r.bar == nil {
		return
	}
	if complete {
		r.bar.SetTotal(-1, true)
	} else {
		r.bar.Abort(true)
	}
	r.bar = nil
	r.taskID = ""
}

func (r *QueueRenderer) Writer() io.Writer { return r.progress }

// Close removes the bar and waits for mpb to flush.
func (r *QueueRenderer) Close() {
	r.mu.Lock()
	r.dropLocked(false)
	r.mu.Unlock()
	r.progress.Wait()
}
