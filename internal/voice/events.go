package voice

import (
	"sync"
	"time"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventListeningStarted is published once a capture session owns the
	// device and its goroutine is running.
	EventListeningStarted EventKind = iota + 1

	// EventListeningStopped is published after the device of a capture
	// session has been released. Err is set when a device failure ended the
	// session.
	EventListeningStopped

	// EventSpeechDetected carries the non-empty transcript of one utterance.
	EventSpeechDetected
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventListeningStarted:
		return "listening_started"
	case EventListeningStopped:
		return "listening_stopped"
	case EventSpeechDetected:
		return "speech_detected"
	default:
		return "unknown"
	}
}

// Event is a message from the capture side to the control side.
type Event struct {
	Kind EventKind

	// Text is the transcript. Only set for EventSpeechDetected.
	Text string

	// UtteranceID correlates an EventSpeechDetected with its log lines.
	UtteranceID string

	// Err is the error that ended a session. Only set for
	// EventListeningStopped.
	Err error

	// At is when the event was published.
	At time.Time
}

// EventChannel is an unbounded FIFO between one producer (the capture loop)
// and one consumer (the control loop). Publish never blocks and the consumer
// polls with Drain on its own schedule.
type EventChannel struct {
	mu    sync.Mutex
	queue []Event
}

// NewEventChannel returns an empty channel.
func NewEventChannel() *EventChannel {
	return &EventChannel{}
}

// Publish appends e. A zero At is set to the current time.
func (c *EventChannel) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.mu.Lock()
	c.queue = append(c.queue, e)
	c.mu.Unlock()
}

// Drain removes and returns every queued event in publish order. It returns
// nil when nothing is queued and never waits for new events.
func (c *EventChannel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Len returns the number of queued events.
func (c *EventChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
