package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple synthesizers. Each synthesizer has its own circuit breaker.
//
// All synthesizers must produce the same output format: cached clips and the
// playback sink are keyed to a single format.
type TTSFallback struct {
	group  *FallbackGroup[tts.Synthesizer]
	format string
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		format: primary.OutputFormat(),
	}
}

// AddFallback registers an additional synthesizer as a fallback. It fails
// when the synthesizer's output format differs from the primary's.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) error {
	if got := s.OutputFormat(); got != f.format {
		return fmt.Errorf("resilience: tts fallback %q produces %q, primary produces %q", name, got, f.format)
	}
	f.group.AddFallback(name, s)
	return nil
}

// States reports the breaker state of every synthesizer keyed by name.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize produces a clip with the first healthy synthesizer.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	return Call(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first synthesizer that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	return Call(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) ([]tts.VoiceInfo, error) {
		return s.ListVoices(ctx)
	})
}

// Names lists the synthesizers in the order they are tried.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// OutputFormat returns the format shared by every synthesizer in the chain.
func (f *TTSFallback) OutputFormat() string { return f.format }
