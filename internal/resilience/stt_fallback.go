package resilience

import (
	"context"

	"github.com/MrWong99/voxcore/pkg/provider/stt"
)

// STTFallback implements [stt.Recognizer] with automatic failover across
// multiple recognizers. Each recognizer has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

// Compile-time interface assertion.
var _ stt.Recognizer = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *STTFallback) AddFallback(name string, rec stt.Recognizer) {
	f.group.AddFallback(name, rec)
}

// States reports the breaker state of every recognizer keyed by name.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Names lists the recognizers in the order they are tried.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Recognize transcribes samples with the first healthy recognizer. A
// recognizer that heard nothing counts as a success; only errors fail over.
func (f *STTFallback) Recognize(ctx context.Context, samples []float32, req stt.Request) ([]stt.Segment, error) {
	return Call(ctx, f.group, func(ctx context.Context, r stt.Recognizer) ([]stt.Segment, error) {
		return r.Recognize(ctx, samples, req)
	})
}
