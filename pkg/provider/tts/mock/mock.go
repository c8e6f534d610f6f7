// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to return controlled clips and to verify which text and
// voices were sent to the TTS backend.
//
// Example:
//
//	s := &mock.Synthesizer{
//	    Audio:            []byte("clip"),
//	    ListVoicesResult: []tts.VoiceInfo{{ID: "v1", Name: "Alice"}},
//	}
//	clip, _ := s.Synthesize(ctx, "hello", tts.Voice{ID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the Voice passed to Synthesize.
	Voice tts.Voice
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize. When AudioFunc is set it wins.
	Audio []byte

	// AudioFunc, if non-nil, computes the clip from the call arguments.
	AudioFunc func(text string, voice tts.Voice) []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Block, if non-nil, is received from before Synthesize returns.
	Block chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceInfo

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// Format is returned by OutputFormat. Defaults to "mp3_44100_128".
	Format string

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCallCount is the number of ListVoices calls.
	ListVoicesCallCount int
}

// Synthesize records the call and returns the configured clip or error.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	block := s.Block
	audio, fn, err := s.Audio, s.AudioFunc, s.SynthesizeErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(text, voice), nil
	}
	return audio, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (s *Synthesizer) ListVoices(_ context.Context) ([]tts.VoiceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListVoicesCallCount++
	return s.ListVoicesResult, s.ListVoicesErr
}

// OutputFormat returns Format or "mp3_44100_128".
func (s *Synthesizer) OutputFormat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Format == "" {
		return "mp3_44100_128"
	}
	return s.Format
}

// SetError replaces SynthesizeErr. Thread-safe.
func (s *Synthesizer) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeErr = err
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SynthesizeCall, len(s.SynthesizeCalls))
	copy(out, s.SynthesizeCalls)
	return out
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
