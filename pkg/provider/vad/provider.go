// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g. WebRTC VAD) and
// surfaces it as a per-stream session. A session classifies one fixed-size PCM
// window at a time as speech or non-speech; it is a pure function of the
// window contents and the configured aggressiveness.
//
// Detectors only accept a small set of window shapes (10, 20 or 30 ms at 8, 16
// or 48 kHz). Engines validate the shape in NewSession so that an incompatible
// configuration fails at startup instead of on every frame.
//
// When no detector is configured, use [FailOpen]: its sessions classify every
// window as speech, so a missing VAD degrades to "keep everything" rather than
// silently dropping all audio.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnsupportedFrame is returned when a sample rate / window length
// combination cannot be handled by the detector.
var ErrUnsupportedFrame = errors.New("vad: unsupported frame shape")

// SupportedSampleRates lists the sample rates accepted by [ValidateFrameShape].
var SupportedSampleRates = []int{8000, 16000, 48000}

// SupportedFrameMs lists the window lengths accepted by [ValidateFrameShape].
var SupportedFrameMs = []int{10, 20, 30}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// windows passed to Classify.
	SampleRate int

	// FrameSizeMs is the duration of each classified window in milliseconds.
	FrameSizeMs int

	// Aggressiveness is the detector mode from 0 to 3. Higher values are
	// stricter about calling something speech.
	Aggressiveness int
}

// FrameSamples returns the number of samples in one window.
func (c Config) FrameSamples() int { return c.SampleRate / 1000 * c.FrameSizeMs }

// FrameBytes returns the byte length of one 16-bit window.
func (c Config) FrameBytes() int { return c.FrameSamples() * 2 }

// Validate checks the frame shape and aggressiveness range.
func (c Config) Validate() error {
	if err := ValidateFrameShape(c.SampleRate, c.FrameSizeMs); err != nil {
		return err
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness %d out of range [0, 3]", c.Aggressiveness)
	}
	return nil
}

// ValidateFrameShape reports whether a window of frameMs milliseconds at
// sampleRate Hz can be classified.
func ValidateFrameShape(sampleRate, frameMs int) error {
	if !slices.Contains(SupportedSampleRates, sampleRate) {
		return fmt.Errorf("%w: sample rate %d Hz (want one of %v)", ErrUnsupportedFrame, sampleRate, SupportedSampleRates)
	}
	if !slices.Contains(SupportedFrameMs, frameMs) {
		return fmt.Errorf("%w: frame length %d ms (want one of %v)", ErrUnsupportedFrame, frameMs, SupportedFrameMs)
	}
	return nil
}

// SessionHandle is an active VAD session for a single audio stream.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Classify analyses exactly one window of little-endian 16-bit mono PCM.
	// Returns an error if the window has the wrong length or the detector
	// fails internally. It must not block.
	Classify(frame []byte) (Classification, error)

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error wrapping [ErrUnsupportedFrame] if the frame shape is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}

// FailOpen returns an Engine whose sessions classify every window as speech.
// It still validates the frame shape so configuration errors surface the same
// way as with a real detector.
func FailOpen() Engine { return failOpen{} }

type failOpen struct{}

func (failOpen) NewSession(cfg Config) (SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return failOpenSession{}, nil
}

type failOpenSession struct{}

func (failOpenSession) Classify([]byte) (Classification, error) { return Speech, nil }
func (failOpenSession) Close() error                             { return nil }

// IsFailOpen reports whether e was returned by [FailOpen].
func IsFailOpen(e Engine) bool {
	_, ok := e.(failOpen)
	return ok
}
