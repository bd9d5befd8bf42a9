// Package transfer runs single-file transfers over a shell channel, one at a time.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/codec"
)

// TaskKind indicates the direction and byte source of a task.
type TaskKind string

const (
	KindDownload         TaskKind = "download"
	KindUploadFromStream TaskKind = "upload_stream"
	KindUploadFromFile   TaskKind = "upload_file"
)

// IsUpload reports whether the task writes to the remote side.
func (k TaskKind) IsUpload() bool {
	return k == KindUploadFromStream || k == KindUploadFromFile
}

// TaskState represents where a task is in its lifecycle.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // Pending, including after a retryable failure
	TaskActive    TaskState = "active"    // Owned by the worker lane
	TaskSucceeded TaskState = "succeeded" // Terminal
	TaskCanceled  TaskState = "canceled"  // Terminal
	TaskFailed    TaskState = "failed"    // Terminal, retries exhausted or not retryable
)

// IsTerminal returns true for succeeded, canceled and failed.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskCanceled || s == TaskFailed
}

// StreamOpener hands out the byte stream of an UploadFromStream task.
// It is called once per attempt.
type StreamOpener func() (io.ReadCloser, error)

// TaskSpec is what a caller submits. It is copied into the task and never
// referenced again.
type TaskSpec struct {
	Kind        TaskKind
	DisplayName string
	RemotePath  string

	// TotalBytes is the declared size; <= 0 means unknown.
	TotalBytes int64

	// LocalPath is the upload source for KindUploadFromFile and the
	// destination file for KindDownload.
	LocalPath string

	// Stream is the upload source for KindUploadFromStream.
	Stream StreamOpener

	ShowSuccessNotice bool
	ShowReloadNotice  bool

	Destination channel.Destination
}

// Task is one single-file transfer with its own retry and cancel state.
// Only the engine holds *Task; callers see TaskInfo snapshots.
type Task struct {
	// Immutable after construction
	ID                string
	Kind              TaskKind
	DisplayName       string
	RemotePath        string
	TotalBytes        int64
	LocalPath         string
	ShowSuccessNotice bool
	ShowReloadNotice  bool
	CreatedAt         time.Time

	dest   channel.Destination
	stream StreamOpener

	// Cancel flag: set once, observed by the worker between commands
	cancelRequested atomic.Bool
	cancelOnce      sync.Once
	cancelCh        chan struct{}

	mu               sync.Mutex
	state            TaskState
	retriesRemaining int
	attempts         int
	position         int64 // bytes written locally (download) or sent (upload)
	attemptBase      int64 // position when the current attempt started
	startedAt        time.Time
	lastProgress     int
	lastErr          error
}

// NewTask validates spec and builds a queued task with the given retry budget.
func NewTask(spec TaskSpec, retries int) (*Task, error) {
	if err := codec.ValidatePath(spec.RemotePath); err != nil {
		return nil, fmt.Errorf("invalid remote path %q: %w", spec.RemotePath, err)
	}

	switch spec.Kind {
	case KindDownload:
		if spec.LocalPath == "" {
			return nil, errors.New("download requires a local destination file")
		}
	case KindUploadFromFile:
		if spec.LocalPath == "" {
			return nil, fmt.Errorf("%w: upload from file requires a local path", ErrNullSource)
		}
	case KindUploadFromStream:
		if spec.Stream == nil {
			return nil, fmt.Errorf("%w: upload from stream requires a stream", ErrNullSource)
		}
	default:
		return nil, fmt.Errorf("unknown task kind %q", spec.Kind)
	}

	if retries < 0 {
		retries = 0
	}

	name := spec.DisplayName
	if name == "" {
		name = path.Base(spec.RemotePath)
	}

	t := &Task{
		ID:                uuid.NewString(),
		Kind:              spec.Kind,
		DisplayName:       name,
		RemotePath:        spec.RemotePath,
		TotalBytes:        spec.TotalBytes,
		LocalPath:         spec.LocalPath,
		ShowSuccessNotice: spec.ShowSuccessNotice,
		ShowReloadNotice:  spec.ShowReloadNotice,
		CreatedAt:         time.Now(),
		dest:              spec.Destination,
		stream:            spec.Stream,
		cancelCh:          make(chan struct{}),
		state:             TaskQueued,
		retriesRemaining:  retries,
	}
	if spec.Kind == KindUploadFromFile {
		src := spec.LocalPath
		t.stream = func() (io.ReadCloser, error) { return os.Open(src) }
	}
	return t, nil
}

// RequestCancel sets the cancel flag. Repeated calls have no further effect.
func (t *Task) RequestCancel() {
	t.cancelOnce.Do(func() {
		t.cancelRequested.Store(true)
		close(t.cancelCh)
	})
}

// CancelRequested reports whether RequestCancel was called.
func (t *Task) CancelRequested() bool {
	return t.cancelRequested.Load()
}

// checkpoint returns ErrCanceled once cancellation was requested.
func (t *Task) checkpoint() error {
	if t.cancelRequested.Load() {
		return ErrCanceled
	}
	return nil
}

// openSource returns the upload byte stream for this attempt.
func (t *Task) openSource() (io.ReadCloser, error) {
	if t.stream == nil {
		return nil, newError(NullSource, OpOpenSource, ErrNullSource)
	}
	rc, err := t.stream()
	if err != nil {
		return nil, newError(LocalIOFailure, OpOpenSource, err)
	}
	if rc == nil {
		return nil, newError(LocalIOFailure, OpOpenSource, errors.New("stream opener returned no stream"))
	}
	return rc, nil
}

// activate marks the task active and stamps the attempt start.
func (t *Task) activate(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TaskActive
	t.attempts++
	t.startedAt = now
	t.attemptBase = t.position
	t.lastProgress = 0
}

func (t *Task) setState(s TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Position returns bytes moved so far.
func (t *Task) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

func (t *Task) advance(n int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position += int64(n)
	return t.position
}

// restartFromZero is used by uploads, which restart every attempt.
func (t *Task) restartFromZero() {
	t.mu.Lock()
	t.position = 0
	t.attemptBase = 0
	t.mu.Unlock()
}

func (t *Task) attemptStart() (time.Time, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.attemptBase
}

func (t *Task) setLastProgress(p int) {
	t.mu.Lock()
	t.lastProgress = p
	t.mu.Unlock()
}

func (t *Task) getLastProgress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastProgress
}

// consumeRetry decrements the budget if one is left.
func (t *Task) consumeRetry() (left int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retriesRemaining <= 0 {
		return 0, false
	}
	t.retriesRemaining--
	return t.retriesRemaining, true
}

// RetriesRemaining returns the unused retry budget.
func (t *Task) RetriesRemaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retriesRemaining
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

// TaskInfo is a read-only snapshot of a task.
type TaskInfo struct {
	ID               string    `json:"id"`
	Kind             TaskKind  `json:"kind"`
	DisplayName      string    `json:"display_name"`
	RemotePath       string    `json:"remote_path"`
	LocalPath        string    `json:"local_path,omitempty"`
	Host             string    `json:"host"`
	TotalBytes       int64     `json:"total_bytes"`
	BytesDone        int64     `json:"bytes_done"`
	Progress         int       `json:"progress"`
	State            TaskState `json:"state"`
	RetriesRemaining int       `json:"retries_remaining"`
	Attempts         int       `json:"attempts"`
	CancelRequested  bool      `json:"cancel_requested"`
	CreatedAt        time.Time `json:"created_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Info returns a snapshot safe to hand to callers.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:               t.ID,
		Kind:             t.Kind,
		DisplayName:      t.DisplayName,
		RemotePath:       t.RemotePath,
		LocalPath:        t.LocalPath,
		Host:             t.dest.Host,
		TotalBytes:       t.TotalBytes,
		BytesDone:        t.position,
		Progress:         t.lastProgress,
		State:            t.state,
		RetriesRemaining: t.retriesRemaining,
		Attempts:         t.attempts,
		CancelRequested:  t.cancelRequested.Load(),
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.startedAt,
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	return info
}
