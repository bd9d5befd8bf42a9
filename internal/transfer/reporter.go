package transfer

import (
	"fmt"
	"time"

	"github.com/rescale/shellxfer/internal/constants"
)

// Speed is the cumulative average rate in bytes/sec. Elapsed time is floored
// at one millisecond.
func Speed(bytesDone int64, elapsed time.Duration) float64 {
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if bytesDone < 0 {
		bytesDone = 0
	}
	return float64(bytesDone) * 1000 / float64(ms)
}

// ETA renders the remaining time as mm:ss, or ETAUnknown when the total is
// unknown, the transfer is complete, or nothing has moved yet.
func ETA(bytesDone, totalBytes int64, speed float64) string {
	if totalBytes <= 0 || bytesDone >= totalBytes || speed <= 0 {
		return constants.ETAUnknown
	}
	remaining := float64(totalBytes - bytesDone)
	seconds := int64(remaining / speed)
	if float64(seconds)*speed < remaining {
		seconds++
	}
	return FormatDuration(seconds)
}

// Progress scales bytesDone/totalBytes to [0, ProgressScaleMax]. Unknown
// totals report 0.
func Progress(bytesDone, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	p := bytesDone * constants.ProgressScaleMax / totalBytes
	switch {
	case p < 0:
		return 0
	case p > constants.ProgressScaleMax:
		return constants.ProgressScaleMax
	}
	return int(p)
}

// QueueSummary is the "current/total" counter: finished plus the active task
// over everything the queue has seen and still holds.
func QueueSummary(completed int, active bool, pending int) string {
	a := 0
	if active {
		a = 1
	}
	return fmt.Sprintf("%d/%d", completed+a, completed+a+pending)
}

// Title prefixes the display name with the transfer direction.
func Title(kind TaskKind, name string) string {
	if kind.IsUpload() {
		return "Upload: " + name
	}
	return "Download: " + name
}

// FormatBytes renders n with one decimal in the largest fitting unit.
func FormatBytes(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%dB", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1fKB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1fMB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1fGB", float64(n)/(unit*unit*unit))
	}
}

// FormatDuration renders seconds as mm:ss, or h:mm:ss from one hour up.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Subtitle is the detail line under the title.
func Subtitle(bytesDone, totalBytes int64, speed float64) string {
	if totalBytes > 0 {
		return fmt.Sprintf("%s / %s · %s/s · ETA %s",
			FormatBytes(bytesDone), FormatBytes(totalBytes),
			FormatBytes(int64(speed)), ETA(bytesDone, totalBytes, speed))
	}
	return fmt.Sprintf("%s · %s/s", FormatBytes(bytesDone), FormatBytes(int64(speed)))
}

// Sample is one progress computation for the active task.
type Sample struct {
	BytesDone  int64
	TotalBytes int64
	Progress   int
	Speed      float64
	ETA        string
	Subtitle   string
}

// reporter turns cumulative byte counts into throttled samples.
type reporter struct {
	task     *Task
	now      func() time.Time
	throttle time.Duration
	step     int
	emit     func(Sample)

	lastEmit     time.Time
	lastProgress int
	emitted      bool
}

func newReporter(task *Task, now func() time.Time, throttle time.Duration, step int, emit func(Sample)) *reporter {
	return &reporter{task: task, now: now, throttle: throttle, step: step, emit: emit}
}

// sample computes the current figures. Speed counts only bytes moved in the
// current attempt so a resumed download does not report inflated rates.
func (r *reporter) sample(done int64) Sample {
	started, base := r.task.attemptStart()
	speed := Speed(done-base, r.now().Sub(started))
	total := r.task.TotalBytes
	return Sample{
		BytesDone:  done,
		TotalBytes: total,
		Progress:   Progress(done, total),
		Speed:      speed,
		ETA:        ETA(done, total, speed),
		Subtitle:   Subtitle(done, total, speed),
	}
}

// update emits a sample unless it falls inside the throttle window and moved
// less than step. Final updates are always emitted.
func (r *reporter) update(done int64, final bool) {
	s := r.sample(done)
	now := r.now()
	if !final && r.emitted &&
		now.Sub(r.lastEmit) < r.throttle &&
		s.Progress-r.lastProgress < r.step {
		return
	}
	r.lastEmit = now
	r.lastProgress = s.Progress
	r.emitted = true
	r.emit(s)
}
