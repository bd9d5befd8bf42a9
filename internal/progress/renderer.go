// Package progress renders transfer engine events on a terminal.
//
// A Renderer consumes the engine's event stream; it never talks to the
// engine directly. Interactive terminals get a live bar, anything else gets
// one line per outcome.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/rescale/shellxfer/internal/events"
)

// Renderer draws engine events.
type Renderer interface {
	// Handle processes one event. Called from a single goroutine.
	Handle(ev events.Event)

	// Writer returns an io.Writer that safely prints above any live bar.
	Writer() io.Writer

	// Close removes live bars and flushes pending output.
	Close()
}

// Mode selects the renderer.
type Mode string

const (
	ModeAuto  Mode = "auto"  // bar on a terminal, plain otherwise
	ModeBar   Mode = "bar"   // single progressbar line
	ModeQueue Mode = "queue" // mpb bar with the queue counter
	ModePlain Mode = "plain" // outcome lines only
)

// ParseMode accepts the Mode names; "" is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeBar, ModeQueue, ModePlain:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown progress mode %q (want auto, bar, queue or plain)", s)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// New builds a renderer for out. Live modes fall back to plain output when
// out is not a terminal.
func New(mode Mode, out *os.File) Renderer {
	if mode == ModePlain || !IsTerminal(out) {
		return NewTextRenderer(out)
	}
	enableANSI(out)
	if mode == ModeQueue {
		return NewQueueRenderer(out)
	}
	return NewBarRenderer(out)
}

// Follow feeds every event from sub to r until ctx is done or sub is
// closed, then closes r.
func Follow(ctx context.Context, sub <-chan events.Event, r Renderer) {
	defer r.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			r.Handle(ev)
		}
	}
}

// FormatOutcome renders an outcome as one line, or "" when it carries no
// message (success notices can be suppressed per task).
func FormatOutcome(ev *events.OutcomeEvent) string {
	if ev == nil || ev.Message == "" {
		return ""
	}
	switch ev.Kind {
	case events.OutcomeDownloadDone, events.OutcomeUploadDone, events.OutcomeUploadFileDone:
		return "✓ " + ev.Message
	case events.OutcomeFailed:
		return "✗ " + ev.Message
	case events.OutcomeRetrying:
		return "↻ " + ev.Message
	default:
		return "- " + ev.Message
	}
}

// describe is the label shown next to a live bar.
func describe(ev *events.ProgressEvent) string {
	if ev.QueueSummary != "" {
		return fmt.Sprintf("[%s] %s", ev.QueueSummary, ev.Title)
	}
	return ev.Title
}
