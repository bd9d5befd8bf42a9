package transfer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rescale/shellxfer/internal/events"
)

// lane is the single worker context. It runs one task at a time.
func (e *Engine) lane() {
	defer e.wg.Done()
	for {
		select {
		case <-e.laneCtx.Done():
			return
		case t := <-e.work:
			e.runTask(t)
		}
	}
}

// runTask executes one attempt and settles its outcome. The next task is
// started afterwards whatever happened.
func (e *Engine) runTask(t *Task) {
	defer e.startNextIfIdle()

	log := e.opts.Logger.WithTask(t.ID)
	log.Info().
		Str("kind", string(t.Kind)).
		Str("remote_path", t.RemotePath).
		Str("destination", t.dest.String()).
		Int("attempt", t.Info().Attempts).
		Msg("Transfer started")

	err := e.attempt(t)
	e.settle(t, err)
}

// attempt runs the channel envelope: connect, loop, always close.
func (e *Engine) attempt(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error().Str("task_id", t.ID).Str("stack", string(debug.Stack())).Msgf("Transfer panicked: %v", r)
			err = fmt.Errorf("transfer panicked: %v", r)
		}
	}()

	if err := t.checkpoint(); err != nil {
		return err
	}

	ch := e.opts.Factory(t.dest)
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			e.opts.Logger.Debug().Err(cerr).Str("task_id", t.ID).Msg("Channel close failed")
		}
	}()

	if err := ch.Connect(e.laneCtx); err != nil {
		return fromChannel(OpConnect, err)
	}

	// Commands are not interrupted by Stop; the loops observe cancellation
	// between round trips instead.
	execCtx := context.WithoutCancel(e.laneCtx)

	rep := newReporter(t, e.opts.Now, e.opts.UIThrottle, e.opts.UIStep, func(s Sample) {
		e.publishSample(t, s)
	})

	if t.Kind == KindDownload {
		return e.download(execCtx, ch, t, rep)
	}
	return e.upload(execCtx, ch, t, rep)
}

// settle records the outcome: success, canceled, requeue for retry, or
// terminal failure.
func (e *Engine) settle(t *Task, err error) {
	log := e.opts.Logger.WithTask(t.ID)

	// A failure that races a cancel request is reported as the cancel.
	if err != nil && (t.CancelRequested() || errors.Is(err, context.Canceled)) {
		err = ErrCanceled
	}

	switch {
	case err == nil:
		kind, msg := e.successOutcome(t)
		log.Info().Int64("bytes", t.Position()).Msg("Transfer completed")
		e.finish(t, TaskSucceeded, kind, msg, nil)

	case errors.Is(err, ErrCanceled):
		log.Info().Int64("bytes", t.Position()).Msg("Transfer canceled")
		e.finish(t, TaskCanceled, events.OutcomeCanceled, "Transfer canceled: "+t.DisplayName, nil)

	case e.opts.RetryPolicy.Retryable(err):
		left, ok := t.consumeRetry()
		if !ok {
			e.fail(t, err)
			return
		}
		e.retry(t, err, left)

	default:
		e.fail(t, err)
	}
}

func (e *Engine) successOutcome(t *Task) (events.OutcomeKind, string) {
	var kind events.OutcomeKind
	var msg string
	switch t.Kind {
	case KindDownload:
		kind = events.OutcomeDownloadDone
		msg = fmt.Sprintf("Downloaded %s (%s)", t.DisplayName, FormatBytes(t.Position()))
	case KindUploadFromFile:
		kind = events.OutcomeUploadFileDone
		msg = fmt.Sprintf("Uploaded %s to %s", t.DisplayName, t.RemotePath)
	default:
		kind = events.OutcomeUploadDone
		msg = fmt.Sprintf("Uploaded %s (%s)", t.DisplayName, FormatBytes(t.Position()))
	}
	if !t.ShowSuccessNotice {
		msg = ""
	}
	return kind, msg
}

func (e *Engine) fail(t *Task, err error) {
	e.opts.Logger.WithTask(t.ID).Error().
		Err(err).
		Str("reason", string(ReasonOf(err))).
		Int("retries_remaining", t.RetriesRemaining()).
		Msg("Transfer failed")
	e.finish(t, TaskFailed, events.OutcomeFailed, "Transfer failed: "+err.Error(), err)
}

// finish removes the task permanently and counts it as completed.
func (e *Engine) finish(t *Task, state TaskState, kind events.OutcomeKind, msg string, err error) {
	t.setState(state)
	t.setErr(err)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed++
	e.active = nil
	e.publishOutcomeLocked(t, kind, msg, err)
}

// retry waits the linear back-off while still active, then requeues the task
// at the head without counting it as completed.
func (e *Engine) retry(t *Task, err error, left int) {
	t.setErr(err)
	attempt := e.opts.Retries - left
	delay := RetryDelay(e.opts.RetryDelay, attempt)

	e.opts.Logger.WithTask(t.ID).Warn().
		Err(err).
		Str("reason", string(ReasonOf(err))).
		Int("retries_remaining", left).
		Dur("delay", delay).
		Msg("Transfer failed, retrying")

	e.mu.Lock()
	msg := fmt.Sprintf("Retrying %s (%d left): %v", t.DisplayName, left, err)
	e.publishOutcomeLocked(t, events.OutcomeRetrying, msg, err)
	ev := e.progressEventLocked(t)
	ev.Progress = t.getLastProgress()
	ev.Subtitle = fmt.Sprintf("Retrying in %s", delay.Round(time.Second))
	e.opts.Bus.Publish(ev)
	e.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-t.cancelCh:
			timer.Stop()
		case <-e.laneCtx.Done():
			timer.Stop()
		}
	}

	if t.CancelRequested() {
		e.finish(t, TaskCanceled, events.OutcomeCanceled, "Transfer canceled: "+t.DisplayName, nil)
		return
	}

	t.setState(TaskQueued)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append([]*Task{t}, e.pending...)
	e.active = nil
}
