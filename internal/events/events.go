// Package events carries engine notifications to UIs, loggers and the control API.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/shellxfer/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress    EventType = "progress"     // Progress line for the active task
	EventOutcome     EventType = "outcome"      // Terminal or retry outcome of a task
	EventEngineState EventType = "engine_state" // Idle/busy transitions of the queue
	EventLog         EventType = "log"
)

// OutcomeKind names the result reported for a task.
type OutcomeKind string

const (
	OutcomeDownloadDone   OutcomeKind = "download_done"
	OutcomeUploadDone     OutcomeKind = "upload_done"
	OutcomeUploadFileDone OutcomeKind = "upload_file_done" // upload that asks the caller to reload the remote side
	OutcomeRetrying       OutcomeKind = "retrying"
	OutcomeCanceled       OutcomeKind = "canceled"
	OutcomeFailed         OutcomeKind = "failed"
	OutcomeNoActive       OutcomeKind = "no_active"
)

// IsTerminal reports whether the outcome ends a task's lifecycle.
// no_active is terminal for the cancel request that produced it.
func (k OutcomeKind) IsTerminal() bool {
	return k != OutcomeRetrying
}

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"time"`
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// ProgressEvent is the progress line shown for the active task.
// Visible is false once the queue drains.
type ProgressEvent struct {
	BaseEvent
	TaskID       string  `json:"task_id,omitempty"`
	Visible      bool    `json:"visible"`
	Title        string  `json:"title"`
	Progress     int     `json:"progress"` // 0..Max
	Max          int     `json:"max"`
	Subtitle     string  `json:"subtitle"`
	QueueSummary string  `json:"queue_summary"`
	BytesDone    int64   `json:"bytes_done"`
	BytesTotal   int64   `json:"bytes_total"` // <= 0 when unknown
	Speed        float64 `json:"speed"`       // bytes/sec, cumulative average
}

// OutcomeEvent reports how a task attempt ended.
type OutcomeEvent struct {
	BaseEvent
	TaskID      string      `json:"task_id,omitempty"`
	Kind        OutcomeKind `json:"kind"`
	Message     string      `json:"message"`
	Target      string      `json:"target,omitempty"` // the task's remote path
	DisplayName string      `json:"display_name,omitempty"`
	TaskKind    string      `json:"task_kind,omitempty"`
	Reason      string      `json:"reason,omitempty"` // failure reason class for retrying/failed
	Attempts    int         `json:"attempts,omitempty"`
	BytesDone   int64       `json:"bytes_done"`

	// RemotePath is set only on upload_file_done for tasks that asked for a
	// reload notice. Callers use it to refresh the remote side.
	RemotePath string `json:"remote_path,omitempty"`
}

// EngineStateEvent is published on the queue's idle/busy transitions.
type EngineStateEvent struct {
	BaseEvent
	Busy      bool `json:"busy"`
	Pending   int  `json:"pending"`
	Completed int  `json:"completed"`
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
	TaskID  string   `json:"task_id,omitempty"`
	Error   error    `json:"-"`
}

// NewProgressEvent stamps a progress event with the current time.
func NewProgressEvent() *ProgressEvent {
	return &ProgressEvent{BaseEvent: newBase(EventProgress), Max: constants.ProgressScaleMax}
}

// NewOutcomeEvent stamps an outcome event with the current time.
func NewOutcomeEvent(kind OutcomeKind, message string) *OutcomeEvent {
	return &OutcomeEvent{BaseEvent: newBase(EventOutcome), Kind: kind, Message: message}
}

// EventBus fans events out to buffered subscriber channels.
// Publish never blocks: a full subscriber buffer drops the event and counts it.
// Reliable subscribers are the exception; they queue instead of dropping.
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	reliable      map[EventType][]*reliableSub
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	switch {
	case bufferSize <= 0:
		bufferSize = constants.EventBusDefaultBuffer
	case bufferSize > constants.EventBusMaxBuffer:
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		reliable:    make(map[EventType][]*reliableSub),
		bufferSize:  bufferSize,
	}
}

// closedChannel is handed out after Close so subscribers fall straight through.
func closedChannel() chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// SubscribeReliable subscribes to eventType without ever dropping: events
// that do not fit in the channel buffer wait in an unbounded queue and are
// delivered in publish order. After Close the queue is flushed before the
// channel closes, so the reader must keep draining until then.
func (eb *EventBus) SubscribeReliable(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return closedChannel()
	}

	rs := newReliableSub(eb.bufferSize)
	eb.reliable[eventType] = append(eb.reliable[eventType], rs)
	go rs.pump()
	return rs.out
}

// Publish sends an event to all subscribers (non-blocking)
func (eb *EventBus) Publish(event Event) {
	if eb == nil || event == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	eb.deliver(eb.subscribers[event.Type()], event)
	eb.deliver(eb.all, event)
	for _, rs := range eb.reliable[event.Type()] {
		rs.push(event)
	}
}

func (eb *EventBus) deliver(chans []chan Event, event Event) {
	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
	for _, subs := range eb.reliable {
		for _, rs := range subs {
			rs.finish()
		}
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, taskID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		TaskID:    taskID,
		Error:     err,
	})
}

// PublishEngineState is a convenience method for idle/busy transitions
func (eb *EventBus) PublishEngineState(busy bool, pending, completed int) {
	eb.Publish(&EngineStateEvent{
		BaseEvent: newBase(EventEngineState),
		Busy:      busy,
		Pending:   pending,
		Completed: completed,
	})
}

// Unsubscribe removes a subscription channel and closes it.
// Works for Subscribe, SubscribeAll and SubscribeReliable channels. Events
// still queued for a reliable subscriber are discarded.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subs := range eb.subscribers {
		if i := indexOf(subs, ch); i >= 0 {
			close(subs[i])
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
	if i := indexOf(eb.all, ch); i >= 0 {
		close(eb.all[i])
		eb.all = append(eb.all[:i], eb.all[i+1:]...)
		return
	}
	for eventType, subs := range eb.reliable {
		for i, rs := range subs {
			if (<-chan Event)(rs.out) == ch {
				rs.discard()
				eb.reliable[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

func indexOf(chans []chan Event, ch <-chan Event) int {
	for i, c := range chans {
		if (<-chan Event)(c) == ch {
			return i
		}
	}
	return -1
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// reliableSub feeds out from an unbounded queue on its own goroutine.
type reliableSub struct {
	out     chan Event
	wake    chan struct{}
	dropped chan struct{}

	mu      sync.Mutex
	queue   []Event
	closing bool
	once    sync.Once
}

func newReliableSub(bufferSize int) *reliableSub {
	return &reliableSub{
		out:     make(chan Event, bufferSize),
		wake:    make(chan struct{}, 1),
		dropped: make(chan struct{}),
	}
}

func (rs *reliableSub) push(ev Event) {
	rs.mu.Lock()
	rs.queue = append(rs.queue, ev)
	rs.mu.Unlock()
	rs.signal()
}

func (rs *reliableSub) signal() {
	select {
	case rs.wake <- struct{}{}:
	default:
	}
}

// finish lets the pump flush what is queued, then close out.
func (rs *reliableSub) finish() {
	rs.mu.Lock()
	rs.closing = true
	rs.mu.Unlock()
	rs.signal()
}

// discard stops the pump without flushing.
func (rs *reliableSub) discard() {
	rs.once.Do(func() { close(rs.dropped) })
}

func (rs *reliableSub) pump() {
	defer close(rs.out)
	for {
		rs.mu.Lock()
		batch := rs.queue
		rs.queue = nil
		closing := rs.closing
		rs.mu.Unlock()

		for _, ev := range batch {
			select {
			case rs.out <- ev:
			case <-rs.dropped:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}

		select {
		case <-rs.wake:
		case <-rs.dropped:
			return
		}
	}
}
