package voice

import "errors"

// Error classes of the voice pipeline. Callers test for them with
// [errors.Is]; the concrete cause is always wrapped alongside.
var (
	// ErrConfiguration marks a problem that prevents the pipeline from
	// starting: an unsupported frame shape, a missing device, or a missing
	// engine. It is fatal to startup and never retried.
	ErrConfiguration = errors.New("voice: configuration error")

	// ErrDevice marks an I/O failure of the audio source. It ends the current
	// capture session.
	ErrDevice = errors.New("voice: audio device failure")

	// ErrRecognition marks a failed transcription. Inside the capture loop it
	// is recovered as an empty result; it only reaches callers of
	// [Engine.TranscribeFile].
	ErrRecognition = errors.New("voice: recognition failed")

	// ErrSynthesis marks a failed synthesis call. Failed results are never
	// cached.
	ErrSynthesis = errors.New("voice: synthesis failed")

	// ErrInvariantViolation marks a programming error, such as an attempt to
	// emit an utterance without frames.
	ErrInvariantViolation = errors.New("voice: invariant violation")
)
