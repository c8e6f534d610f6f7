// Package mock provides a test double for the stt.Recognizer interface.
//
// Example:
//
//	rec := &mock.Recognizer{Segments: []stt.Segment{{Text: " hello "}}}
//	segs, _ := rec.Recognize(ctx, samples, stt.Request{SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcore/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Samples is a copy of the samples passed to Recognize.
	Samples []float32
	// Req is the Request passed to Recognize.
	Req stt.Request
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Segments is returned by every Recognize call.
	Segments []stt.Segment

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	// Block, if non-nil, is received from before Recognize returns. It lets
	// tests hold a call in flight.
	Block chan struct{}

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns Segments, Err.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, req stt.Request) ([]stt.Segment, error) {
	r.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Samples: cp, Req: req})
	block := r.Block
	segs, err := r.Segments, r.Err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return segs, err
}

// SetResult replaces Segments and Err. Thread-safe.
func (r *Recognizer) SetResult(segs []stt.Segment, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Segments, r.Err = segs, err
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (r *Recognizer) Calls() []RecognizeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecognizeCall, len(r.RecognizeCalls))
	copy(out, r.RecognizeCalls)
	return out
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
