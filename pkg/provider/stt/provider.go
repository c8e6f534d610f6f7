// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A recognizer wraps a batch transcription engine (a local whisper.cpp model,
// a whisper.cpp server, Deepgram, or the OpenAI transcription API) and exposes
// a single blocking call: hand over one complete utterance as contiguous mono
// float32 PCM and get back the timed text segments the engine produced.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
	"time"
)

// Request carries the audio format and recognition hints for one call.
type Request struct {
	// SampleRate is the rate of the samples in Hz (e.g. 16000).
	SampleRate int

	// Language is a language hint such as "en" or "de". Empty lets the
	// engine auto-detect or fall back to its configured default.
	Language string

	// Prompt is text the engine should expect to hear: the proper nouns of
	// the correction vocabulary, comma separated. whisper.cpp and OpenAI use
	// it as the initial prompt, Deepgram splits it into key terms.
	Prompt string
}

// Segment is one timed piece of recognised text.
type Segment struct {
	// Text is the recognised text, untrimmed as returned by the engine.
	Text string

	// Start and End are offsets relative to the beginning of the audio.
	Start time.Duration
	End   time.Duration
}

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes samples, which must be mono float32 PCM in
	// [-1.0, 1.0] at req.SampleRate. It blocks until the engine has finished
	// and returns the segments in order. An engine that heard nothing returns
	// an empty slice and a nil error.
	Recognize(ctx context.Context, samples []float32, req Request) ([]Segment, error)
}

// JoinSegments trims every segment and joins the non-empty ones with single
// spaces.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
