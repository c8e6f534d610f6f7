// Package webrtc implements [vad.Engine] on top of the WebRTC voice activity
// detector (github.com/baabaaox/go-webrtcvad).
//
// Each session owns one native detector instance. The detector classifies a
// single 10, 20 or 30 ms window of 16-bit mono PCM; aggressiveness maps
// directly onto the WebRTC mode (0 least, 3 most aggressive).
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/baabaaox/go-webrtcvad"

	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// Engine creates WebRTC VAD sessions.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession allocates and configures a native detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inst := webrtcvad.Create()
	if inst == nil {
		return nil, errors.New("webrtc vad: failed to create detector instance")
	}
	if err := webrtcvad.Init(inst); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("webrtc vad: init: %w", err)
	}
	if err := webrtcvad.SetMode(inst, cfg.Aggressiveness); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	return &session{
		inst:         inst,
		sampleRate:   cfg.SampleRate,
		frameSamples: cfg.FrameSamples(),
		frameBytes:   cfg.FrameBytes(),
	}, nil
}

type session struct {
	mu           sync.Mutex
	inst         webrtcvad.VadInst
	sampleRate   int
	frameSamples int
	frameBytes   int
	closed       bool
}

func (s *session) Classify(frame []byte) (vad.Classification, error) {
	if len(frame) != s.frameBytes {
		return vad.NonSpeech, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.NonSpeech, errors.New("webrtc vad: session closed")
	}
	active, err := webrtcvad.Process(s.inst, s.sampleRate, frame, s.frameSamples)
	if err != nil {
		return vad.NonSpeech, fmt.Errorf("webrtc vad: process: %w", err)
	}
	if active {
		return vad.Speech, nil
	}
	return vad.NonSpeech, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	webrtcvad.Free(s.inst)
	return nil
}
