// Package mock provides in-memory implementations of [audio.Source],
// [audio.Stream], and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Stream: &mock.Stream{
//	    Steps: []mock.Step{{Data: speech}, {Data: silence}, {Err: io.ErrUnexpectedEOF}},
//	}}
//	stream, err := src.Open(ctx, audio.StreamConfig{SampleRate: 16000, FrameSamples: 480})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxcore/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Source.Open] invocation.
type OpenCall struct {
	Cfg audio.StreamConfig
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, a new empty Stream is returned.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open instead of a stream.
	OpenErr error

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Cfg: cfg})
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		s.Stream = &Stream{}
	}
	s.Stream.reopen(cfg)
	return s.Stream, nil
}

// OpenCount returns how many times Open was called. Thread-safe.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

var _ audio.Source = (*Source)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Step is one scripted result of [Stream.NextFrame]. Exactly one of Data or
// Err should be set.
type Step struct {
	Data []byte
	Err  error
}

// Stream is a scripted mock implementation of [audio.Stream]. Steps are
// consumed in order; once they are exhausted NextFrame behaves according to
// Exhausted.
type Stream struct {
	mu sync.Mutex

	// Steps is the script consumed by NextFrame.
	Steps []Step

	// Exhausted is returned once every step has been consumed. When nil the
	// stream sleeps for the requested timeout and returns audio.ErrTimeout,
	// which mimics a silent device.
	Exhausted error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	cfg        audio.StreamConfig
	pos        int
	seq        uint64
	closeCount int
	closed     bool
}

func (s *Stream) reopen(cfg audio.StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.closed = false
}

// NextFrame implements [audio.Stream].
func (s *Stream) NextFrame(timeout time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, audio.ErrClosed
	}
	if s.pos >= len(s.Steps) {
		exhausted := s.Exhausted
		s.mu.Unlock()
		if exhausted != nil {
			return audio.Frame{}, exhausted
		}
		time.Sleep(min(timeout, 5*time.Millisecond))
		return audio.Frame{}, audio.ErrTimeout
	}
	step := s.Steps[s.pos]
	s.pos++
	defer s.mu.Unlock()
	if step.Err != nil {
		return audio.Frame{}, step.Err
	}
	f := audio.Frame{
		Data:       step.Data,
		SampleRate: s.cfg.SampleRate,
		Seq:        s.seq,
		Timestamp:  time.Duration(s.seq) * s.cfg.FrameDuration(),
	}
	s.seq++
	return f, nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.closed = true
	return s.CloseErr
}

// CloseCount returns how many times Close was called. Thread-safe.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Consumed returns how many steps have been consumed. Thread-safe.
func (s *Stream) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

var _ audio.Stream = (*Stream)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Played records a copy of every clip passed to Play.
	Played [][]byte

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.Played = append(s.Played, cp)
	return s.PlayErr
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// PlayCount returns the number of Play calls. Thread-safe.
func (s *Sink) PlayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

var _ audio.Sink = (*Sink)(nil)
