package voice

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// Utterance is a run of frames bounded by silence on both sides. The trailing
// silence that closed it is kept inside as natural padding.
type Utterance struct {
	// ID correlates the utterance across log lines and spans.
	ID string

	// Frames are in capture order.
	Frames []audio.Frame
}

// Samples returns the total number of PCM samples across all frames.
func (u Utterance) Samples() int {
	n := 0
	for _, f := range u.Frames {
		n += f.Samples()
	}
	return n
}

// Duration returns the total audio length.
func (u Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// AccumulatorState is the state of a [SegmentAccumulator].
type AccumulatorState int

const (
	// StateIdle means no utterance is open.
	StateIdle AccumulatorState = iota

	// StateAccumulating means an utterance is open and the silence run is
	// being counted.
	StateAccumulating
)

// String returns the human-readable name of the state.
func (s AccumulatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// SilenceFrames converts a silence duration into the number of consecutive
// non-speech frames that close an utterance: silence / chunk, truncated and
// never below 1. A partial chunk of silence does not add a frame.
func SilenceFrames(silence, chunk time.Duration) int {
	if chunk <= 0 {
		return 1
	}
	return max(int(silence/chunk), 1)
}

// SegmentAccumulator turns a stream of classified frames into utterances.
//
//	Idle         + speech                     -> Accumulating (open, append)
//	Accumulating + speech                     -> append, silence run = 0
//	Accumulating + non-speech, run+1 < limit  -> append, silence run++
//	Accumulating + non-speech, run+1 == limit -> append, emit, Idle
//	Idle         + non-speech                 -> discard
//
// There is no upper bound on utterance length. A SegmentAccumulator is owned
// by a single goroutine and is not safe for concurrent use.
type SegmentAccumulator struct {
	threshold int
	state     AccumulatorState
	silence   int
	current   Utterance
}

// NewSegmentAccumulator returns an idle accumulator that closes an utterance
// after threshold consecutive non-speech frames. Values below 1 are raised
// to 1.
func NewSegmentAccumulator(threshold int) *SegmentAccumulator {
	return &SegmentAccumulator{threshold: max(threshold, 1)}
}

// Threshold returns the silence run length that closes an utterance.
func (a *SegmentAccumulator) Threshold() int { return a.threshold }

// State returns the current state.
func (a *SegmentAccumulator) State() AccumulatorState { return a.state }

// Push feeds one classified frame. When the frame completes an utterance it
// is returned with ok set to true; ownership of its frames passes to the
// caller.
func (a *SegmentAccumulator) Push(f audio.Frame, c vad.Classification) (u Utterance, ok bool, err error) {
	switch a.state {
	case StateIdle:
		if c != vad.Speech {
			return Utterance{}, false, nil
		}
		a.state = StateAccumulating
		a.current = Utterance{ID: uuid.NewString(), Frames: []audio.Frame{f}}
		a.silence = 0
		return Utterance{}, false, nil

	case StateAccumulating:
		a.current.Frames = append(a.current.Frames, f)
		if c == vad.Speech {
			a.silence = 0
			return Utterance{}, false, nil
		}
		a.silence++
		if a.silence < a.threshold {
			return Utterance{}, false, nil
		}
		return a.emit()
	}
	return Utterance{}, false, fmt.Errorf("%w: unknown accumulator state %d", ErrInvariantViolation, a.state)
}

// Flush closes and returns the open utterance, if any, regardless of the
// silence run. The accumulator is idle afterwards.
func (a *SegmentAccumulator) Flush() (Utterance, bool) {
	if a.state != StateAccumulating {
		return Utterance{}, false
	}
	u, ok, err := a.emit()
	return u, ok && err == nil
}

func (a *SegmentAccumulator) emit() (Utterance, bool, error) {
	u := a.current
	a.current = Utterance{}
	a.state = StateIdle
	a.silence = 0
	if len(u.Frames) == 0 {
		return Utterance{}, false, fmt.Errorf("%w: utterance %s has no frames", ErrInvariantViolation, u.ID)
	}
	return u, true, nil
}
