// Package audio defines the capture and playback abstractions used by the
// voxcore voice pipeline.
//
// The two primary abstractions are:
//
//   - [Source]: opens an input device and returns a [Stream] that yields
//     fixed-duration mono PCM [Frame] values.
//   - [Sink]: plays a complete encoded audio clip and blocks until playback
//     has finished.
//
// Backends live in sub-packages (audio/portaudio for real devices, audio/mock
// for tests). [NewWAVSource] replays a WAV file as if it were a microphone,
// which is handy for offline runs and demos.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by [Stream.NextFrame] when no complete frame became
// available within the requested timeout. It is not a failure; callers simply
// try again.
var ErrTimeout = errors.New("audio: timed out waiting for frame")

// ErrClosed is returned by [Stream.NextFrame] after the stream was closed.
var ErrClosed = errors.New("audio: stream closed")

// Frame is a fixed-length block of mono, 16-bit signed little-endian PCM.
// Frames are the atomic unit of capture and classification and must not be
// modified after they have been produced.
type Frame struct {
	// Data holds the PCM samples, two bytes per sample.
	Data []byte

	// SampleRate is the rate of Data in Hz.
	SampleRate int

	// Seq is the zero-based position of the frame within its capture session.
	Seq uint64

	// Timestamp marks when this frame started, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// StreamConfig describes the frame shape a [Source] must deliver.
type StreamConfig struct {
	// SampleRate is the capture rate in Hz (e.g. 16000).
	SampleRate int

	// FrameSamples is the number of mono samples per frame.
	FrameSamples int
}

// FrameDuration returns the duration of one frame.
func (c StreamConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// Source is the entry point for an audio input backend.
//
// Implementations must be safe for concurrent use, but at most one [Stream]
// is expected to be open per device at a time.
type Source interface {
	// Open acquires the input device and starts capturing. The returned
	// Stream owns the device until its Close method is called.
	//
	// Returns an error if the device is missing, busy, or does not support
	// the requested format.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is an open capture session on a single device.
type Stream interface {
	// NextFrame blocks for at most timeout and returns the next frame in
	// arrival order. It returns [ErrTimeout] when no frame arrived in time
	// and any other error when the device failed.
	NextFrame(timeout time.Duration) (Frame, error)

	// Close stops capturing and releases the device. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Sink plays complete encoded audio clips (for example an MP3 returned by a
// speech synthesis service).
type Sink interface {
	// Play decodes and plays data, blocking until playback has finished or
	// ctx is cancelled.
	Play(ctx context.Context, data []byte) error

	// Close releases the output device.
	Close() error
}
