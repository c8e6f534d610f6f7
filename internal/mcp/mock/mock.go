// Package mock provides an in-memory test double for [mcp.Controller].
//
// [Controller] records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. It is safe for
// concurrent use.
//
// Typical usage:
//
//	c := &mock.Controller{SpeakErr: errors.New("sink gone")}
//	srv := mcp.New(c, "test")
//
//	// call the "speak" tool …
//
//	if got := c.CallCount("Speak"); got != 1 {
//	    t.Errorf("expected 1 Speak call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcore/internal/mcp"
	"github.com/MrWong99/voxcore/internal/voice"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Controller is a configurable test double for [mcp.Controller].
// All exported *Err fields default to nil (success).
type Controller struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// listening tracks StartListening/StopListening.
	listening bool

	// ──── Status ───────────────────────────────────────────────────────────

	// StatusResult is returned by [Controller.Status]. Listening is
	// overwritten with the state driven by Start/StopListening.
	StatusResult voice.Status

	// ──── StartListening ───────────────────────────────────────────────────

	// StartErr is returned by [Controller.StartListening] when non-nil.
	StartErr error

	// ──── Speak ────────────────────────────────────────────────────────────

	// SpeakErr is returned by [Controller.Speak] when non-nil.
	SpeakErr error

	// ──── StopSpeaking ─────────────────────────────────────────────────────

	// Interrupted is returned by [Controller.StopSpeaking].
	Interrupted bool

	// ──── Transcripts ──────────────────────────────────────────────────────

	// TranscriptsResult holds every transcript; [Controller.Transcripts]
	// returns those with a Seq above the cursor.
	TranscriptsResult []mcp.Transcript
}

// Calls returns a copy of all recorded method invocations.
func (c *Controller) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (c *Controller) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *Controller) record(method string, args ...any) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Status implements [mcp.Controller].
func (c *Controller) Status() voice.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Status")
	st := c.StatusResult
	st.Listening = c.listening
	return st
}

// StartListening implements [mcp.Controller].
func (c *Controller) StartListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StartListening")
	if c.StartErr != nil {
		return c.StartErr
	}
	c.listening = true
	return nil
}

// StopListening implements [mcp.Controller].
func (c *Controller) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StopListening")
	c.listening = false
}

// Speak implements [mcp.Controller].
func (c *Controller) Speak(_ context.Context, text, voiceID string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Speak", text, voiceID, priority)
	return c.SpeakErr
}

// StopSpeaking implements [mcp.Controller].
func (c *Controller) StopSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StopSpeaking")
	return c.Interrupted
}

// Transcripts implements [mcp.Controller].
func (c *Controller) Transcripts(since uint64) ([]mcp.Transcript, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Transcripts", since)
	var out []mcp.Transcript
	next := since
	for _, t := range c.TranscriptsResult {
		if t.Seq > since {
			out = append(out, t)
			next = t.Seq
		}
	}
	return out, next
}

// Ensure Controller satisfies the interface at compile time.
var _ mcp.Controller = (*Controller)(nil)
