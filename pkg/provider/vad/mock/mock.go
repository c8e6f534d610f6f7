// Package mock provides scriptable doubles for [vad.Engine] and
// [vad.SessionHandle].
//
//	sess := &mock.Session{ClassifyFunc: mock.Loudness}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Loudness classifies a 16-bit window as speech when its first sample is
// non-zero. Paired with digital-silence test frames it gives exact control
// over where utterances start and stop.
func Loudness(frame []byte) vad.Classification {
	if len(frame) >= 2 && (frame[0] != 0 || frame[1] != 0) {
		return vad.Speech
	}
	return vad.NonSpeech
}

// Engine hands out Session (or a fresh default Session) and records every
// configuration it was asked for.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

// NewSession records cfg and returns Session or Err.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	default:
		return &Session{}, nil
	}
}

// Configs returns the configurations passed to NewSession, oldest first.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.configs)
}

// Session classifies frames by, in order of precedence: ClassifyErr,
// ClassifyFunc, the next unused Script entry, Result.
type Session struct {
	Script       []vad.Classification
	Result       vad.Classification
	ClassifyFunc func(frame []byte) vad.Classification
	ClassifyErr  error
	CloseErr     error

	mu     sync.Mutex
	frames [][]byte
	closes int
}

// Classify records a copy of frame and returns its classification.
func (s *Session) Classify(frame []byte) (vad.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, slices.Clone(frame))
	n := len(s.frames)
	switch {
	case s.ClassifyErr != nil:
		return vad.NonSpeech, s.ClassifyErr
	case s.ClassifyFunc != nil:
		return s.ClassifyFunc(frame), nil
	case n <= len(s.Script):
		return s.Script[n-1], nil
	default:
		return s.Result, nil
	}
}

// Close counts the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Frames returns the classified frames in order.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

// ClassifyCount returns how many frames were classified.
func (s *Session) ClassifyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
