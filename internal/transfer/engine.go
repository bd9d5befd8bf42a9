package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/diskspace"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/logging"
)

// Foreground is the keep-alive resource held while the queue has work.
// The engine calls Acquire once per idle->busy transition and Release once
// per busy->idle transition.
type Foreground interface {
	Acquire() error
	Release() error
}

// SpaceChecker verifies that a download of n bytes fits at path.
type SpaceChecker func(path string, n int64) error

// Options configures an Engine.
type Options struct {
	// Factory builds a fresh channel for every attempt. Required.
	Factory channel.Factory

	Bus        *events.EventBus
	Logger     *logging.Logger
	Foreground Foreground

	// Retries is the per-task budget after the first failure.
	// Negative disables retries; zero uses DefaultRetries.
	Retries     int
	RetryDelay  time.Duration // per-retry linear step; zero retries immediately
	RetryPolicy RetryPolicy

	// UIThrottle and UIStep limit in-loop progress events.
	UIThrottle time.Duration
	UIStep     int

	// BlockSize and UploadBufferSize override the chunk sizes (tests only).
	BlockSize        int
	UploadBufferSize int

	// SpaceCheck runs before the first attempt of a download with a known
	// size. Nil uses the diskspace package with DiskSpaceSafetyMargin.
	SpaceCheck SpaceChecker

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	switch {
	case o.Retries == 0:
		o.Retries = constants.DefaultRetries
	case o.Retries < 0:
		o.Retries = 0
	}
	if o.RetryPolicy == "" {
		o.RetryPolicy = RetryAll
	}
	if o.UIThrottle == 0 {
		o.UIThrottle = constants.ProgressUIThrottle
	}
	if o.UIStep == 0 {
		o.UIStep = constants.ProgressUIStep
	}
	if o.BlockSize <= 0 {
		o.BlockSize = constants.TransferBlockSize
	}
	if o.UploadBufferSize <= 0 {
		o.UploadBufferSize = constants.UploadBufferSize
	}
	if o.SpaceCheck == nil {
		o.SpaceCheck = func(path string, n int64) error {
			return diskspace.CheckAvailableSpace(path, n, constants.DiskSpaceSafetyMargin)
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Busy      bool `json:"busy"`
	Active    bool `json:"active"`
	Pending   int  `json:"pending"`
	Completed int  `json:"completed"`
	Running   bool `json:"running"`
}

// Engine is the single-lane transfer queue.
//
// All queue state (pending list, active pointer, counters, foreground
// ownership) is guarded by mu. The protocol loops run on the lane goroutine
// without holding mu, so Enqueue and CancelActive never wait on a round trip.
type Engine struct {
	opts Options

	mu        sync.Mutex
	pending   []*Task
	active    *Task
	completed int
	busy      bool
	started   bool
	stopped   bool
	idleCh    chan struct{}

	work       chan *Task
	laneCtx    context.Context
	laneCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewEngine creates an engine. Call Start to begin draining the queue.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Factory == nil {
		return nil, errors.New("transfer engine requires a channel factory")
	}
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:       opts,
		work:       make(chan *Task, 1),
		laneCtx:    ctx,
		laneCancel: cancel,
	}, nil
}

// Start launches the worker lane and starts any task enqueued before it.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.lane()

	e.opts.Logger.Debug().Int("pending", len(e.pending)).Msg("Transfer engine started")
	e.startNextLocked()
}

// Stop halts the lane. The active task is asked to cancel; its in-flight
// command finishes its round trip before the loop observes the request.
// Stop returns after the lane has exited and the foreground resource is
// released. Pending tasks are left unstarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	if e.active != nil {
		e.active.RequestCancel()
	}
	e.mu.Unlock()

	e.laneCancel()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	// A task handed to the lane but never picked up goes back to the head.
	select {
	case t := <-e.work:
		t.setState(TaskQueued)
		e.pending = append([]*Task{t}, e.pending...)
		e.active = nil
	default:
	}

	e.goIdleLocked()
	e.opts.Logger.Info().Int("pending", len(e.pending)).Int("completed", e.completed).Msg("Transfer engine stopped")
}

// Enqueue admits a task at the tail and starts it if the lane is idle.
func (e *Engine) Enqueue(spec TaskSpec) (TaskInfo, error) {
	t, err := NewTask(spec, e.opts.Retries)
	if err != nil {
		return TaskInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return TaskInfo{}, ErrEngineStopped
	}

	e.pending = append(e.pending, t)
	e.opts.Logger.Info().
		Str("task_id", t.ID).
		Str("kind", string(t.Kind)).
		Str("remote_path", t.RemotePath).
		Int64("total_bytes", t.TotalBytes).
		Int("pending", len(e.pending)).
		Msg("Transfer enqueued")

	e.startNextLocked()
	return t.Info(), nil
}

// CancelActive requests cancellation of the active task. With no active task
// it emits a no_active outcome and changes nothing.
func (e *Engine) CancelActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil {
		e.publishOutcomeLocked(nil, events.OutcomeNoActive, "No active transfer", nil)
		return false
	}

	t.RequestCancel()
	e.opts.Logger.Info().Str("task_id", t.ID).Msg("Cancel requested")

	ev := e.progressEventLocked(t)
	ev.Progress = t.getLastProgress()
	ev.Subtitle = "Cancel requested"
	e.opts.Bus.Publish(ev)
	return true
}

// Stats returns queue counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Busy:      e.busy,
		Active:    e.active != nil,
		Pending:   len(e.pending),
		Completed: e.completed,
		Running:   e.started && !e.stopped,
	}
}

// Snapshot returns the active task (if any) followed by the pending tasks.
func (e *Engine) Snapshot() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.pending)+1)
	if e.active != nil {
		out = append(out, e.active.Info())
	}
	for _, t := range e.pending {
		out = append(out, t.Info())
	}
	return out
}

// WaitIdle blocks until the queue has no active or pending task.
func (e *Engine) WaitIdle(ctx context.Context) error {
	e.mu.Lock()
	if e.isIdleLocked() || e.stopped {
		e.mu.Unlock()
		return nil
	}
	if e.idleCh == nil {
		e.idleCh = make(chan struct{})
	}
	ch := e.idleCh
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isIdleLocked() bool {
	return e.active == nil && len(e.pending) == 0
}

func (e *Engine) startNextIfIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startNextLocked()
}

// startNextLocked pops the head and hands it to the lane, or goes idle.
func (e *Engine) startNextLocked() {
	if !e.started || e.stopped || e.active != nil {
		return
	}
	if len(e.pending) == 0 {
		e.goIdleLocked()
		return
	}

	t := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]

	if !e.busy {
		e.busy = true
		if e.opts.Foreground != nil {
			if err := e.opts.Foreground.Acquire(); err != nil {
				e.opts.Logger.Warn().Err(err).Msg("Failed to acquire foreground resource")
			}
		}
		e.opts.Bus.PublishEngineState(true, len(e.pending), e.completed)
	}

	e.active = t
	t.activate(e.opts.Now())

	ev := e.progressEventLocked(t)
	ev.Subtitle = "Connecting to " + t.dest.Host
	e.opts.Bus.Publish(ev)

	e.work <- t
}

// goIdleLocked hides progress and releases the foreground resource once.
func (e *Engine) goIdleLocked() {
	e.opts.Bus.Publish(&events.ProgressEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventProgress, Time: time.Now()},
		Visible:      false,
		Max:          constants.ProgressScaleMax,
		QueueSummary: QueueSummary(e.completed, false, len(e.pending)),
	})

	if e.busy {
		e.busy = false
		if e.opts.Foreground != nil {
			if err := e.opts.Foreground.Release(); err != nil {
				e.opts.Logger.Warn().Err(err).Msg("Failed to release foreground resource")
			}
		}
		e.opts.Bus.PublishEngineState(false, len(e.pending), e.completed)
	}

	if (e.isIdleLocked() || e.stopped) && e.idleCh != nil {
		close(e.idleCh)
		e.idleCh = nil
	}
}

func (e *Engine) progressEventLocked(t *Task) *events.ProgressEvent {
	ev := events.NewProgressEvent()
	ev.TaskID = t.ID
	ev.Visible = true
	ev.Title = Title(t.Kind, t.DisplayName)
	ev.BytesDone = t.Position()
	ev.BytesTotal = t.TotalBytes
	ev.QueueSummary = QueueSummary(e.completed, e.active != nil, len(e.pending))
	return ev
}

// publishSample is the reporter's sink. Runs on the lane.
func (e *Engine) publishSample(t *Task, s Sample) {
	t.setLastProgress(s.Progress)

	e.mu.Lock()
	defer e.mu.Unlock()
	ev := e.progressEventLocked(t)
	ev.Progress = s.Progress
	ev.Subtitle = s.Subtitle
	ev.BytesDone = s.BytesDone
	ev.Speed = s.Speed
	e.opts.Bus.Publish(ev)
}

func (e *Engine) publishOutcomeLocked(t *Task, kind events.OutcomeKind, msg string, err error) {
	ev := events.NewOutcomeEvent(kind, msg)
	if t != nil {
		ev.TaskID = t.ID
		ev.DisplayName = t.DisplayName
		ev.TaskKind = string(t.Kind)
		ev.Target = t.RemotePath
		if kind == events.OutcomeUploadFileDone && t.ShowReloadNotice {
			ev.RemotePath = t.RemotePath
		}
		ev.BytesDone = t.Position()
		ev.Attempts = t.Info().Attempts
	}
	if err != nil {
		ev.Reason = string(ReasonOf(err))
	}
	e.opts.Bus.Publish(ev)
}
