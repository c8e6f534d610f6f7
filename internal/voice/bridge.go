package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/internal/resilience"
	"github.com/MrWong99/voxcore/internal/transcript"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
)

// TranscriptionResult is the outcome of transcribing one utterance. A failed
// transcription is indistinguishable from silence: IsEmpty is set and Text is
// empty.
type TranscriptionResult struct {
	UtteranceID string
	Text        string
	IsEmpty     bool
	Duration    time.Duration
}

// TranscriptionBridge hands utterances to a [stt.Recognizer] and normalises
// its output. Calls go through a circuit breaker so a dead engine is skipped
// quickly instead of stalling the capture loop on every utterance. Recognized
// text is corrected against the current [transcript.Vocabulary].
type TranscriptionBridge struct {
	rec        stt.Recognizer
	name       string
	req        stt.Request
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	vocab      atomic.Pointer[transcript.Vocabulary]
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// BridgeOption configures a [TranscriptionBridge].
type BridgeOption func(*TranscriptionBridge)

// WithBridgeBreaker replaces the default circuit breaker configuration.
func WithBridgeBreaker(cfg resilience.CircuitBreakerConfig) BridgeOption {
	return func(b *TranscriptionBridge) { b.breakerCfg = cfg }
}

// WithBridgeMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithBridgeMetrics(m *observe.Metrics) BridgeOption {
	return func(b *TranscriptionBridge) { b.metrics = m }
}

// WithBridgeLogger sets the logger. Defaults to slog.Default().
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *TranscriptionBridge) { b.logger = l }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) BridgeOption {
	return func(b *TranscriptionBridge) { b.name = name }
}

// WithVocabulary sets the initial correction vocabulary. A nil or empty
// vocabulary leaves transcripts untouched.
func WithVocabulary(v *transcript.Vocabulary) BridgeOption {
	return func(b *TranscriptionBridge) { b.vocab.Store(v) }
}

// NewTranscriptionBridge returns a bridge that transcribes audio at
// req.SampleRate with the language hint req.Language.
func NewTranscriptionBridge(rec stt.Recognizer, req stt.Request, opts ...BridgeOption) *TranscriptionBridge {
	b := &TranscriptionBridge{
		rec:        rec,
		name:       "stt",
		req:        req,
		breakerCfg: resilience.CircuitBreakerConfig{Name: "stt"},
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.breakerCfg.Logger == nil {
		b.breakerCfg.Logger = b.logger
	}
	if b.breakerCfg.OnStateChange == nil {
		b.breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			b.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	b.breaker = resilience.NewCircuitBreaker(b.breakerCfg)
	return b
}

// SetVocabulary swaps the correction vocabulary. Safe to call while
// transcriptions are running.
func (b *TranscriptionBridge) SetVocabulary(v *transcript.Vocabulary) {
	b.vocab.Store(v)
}

// correct applies the vocabulary to text and logs every substitution.
func (b *TranscriptionBridge) correct(ctx context.Context, text string) string {
	corrected, corrections := b.vocab.Load().Correct(text)
	for _, c := range corrections {
		observe.LoggerFrom(ctx, b.logger).Debug("transcript corrected",
			"original", c.Original,
			"corrected", c.Corrected,
			"confidence", c.Confidence,
			"phonetic", c.Phonetic,
		)
	}
	if len(corrections) > 0 {
		b.metrics.TranscriptCorrections.Add(ctx, int64(len(corrections)))
	}
	return corrected
}

// Available reports whether a recognizer is configured and its breaker is
// not open.
func (b *TranscriptionBridge) Available() bool {
	return b.rec != nil && b.breaker.State() != resilience.StateOpen
}

// BreakerState returns the state of the recognizer's circuit breaker.
func (b *TranscriptionBridge) BreakerState() resilience.State { return b.breaker.State() }

// Transcribe runs one utterance through the recognizer. It never returns an
// error: every failure is logged and yields an empty result.
func (b *TranscriptionBridge) Transcribe(ctx context.Context, u Utterance) TranscriptionResult {
	res := TranscriptionResult{UtteranceID: u.ID, IsEmpty: true, Duration: u.Duration()}

	ctx, span := observe.StartSpan(observe.WithUtterance(ctx, u.ID), "voice.transcribe",
		trace.WithAttributes(
			attribute.String("utterance.id", u.ID),
			attribute.Int("utterance.frames", len(u.Frames)),
			attribute.Float64("utterance.seconds", res.Duration.Seconds()),
		),
	)

	b.metrics.Utterances.Add(ctx, 1)
	b.metrics.UtteranceDuration.Record(ctx, res.Duration.Seconds())

	text, err := b.recognize(ctx, u)
	observe.EndSpan(span, err)
	if err != nil {
		b.metrics.EmptyTranscripts.Add(ctx, 1)
		observe.LoggerFrom(ctx, b.logger).Warn("transcription failed", "provider", b.name, "err", err)
		return res
	}
	if text == "" {
		b.metrics.EmptyTranscripts.Add(ctx, 1)
		observe.LoggerFrom(ctx, b.logger).Debug("utterance transcribed to nothing")
		return res
	}
	res.Text = b.correct(ctx, text)
	res.IsEmpty = false
	return res
}

func (b *TranscriptionBridge) recognize(ctx context.Context, u Utterance) (string, error) {
	if b.rec == nil {
		return "", fmt.Errorf("%w: no recognizer configured", ErrRecognition)
	}
	samples := utteranceSamples(u)
	if len(samples) == 0 {
		return "", fmt.Errorf("%w: utterance %s carries no samples", ErrInvariantViolation, u.ID)
	}

	req := b.req
	req.Prompt = b.vocab.Load().Prompt()

	var segs []stt.Segment
	start := time.Now()
	err := b.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		segs, err = b.rec.Recognize(ctx, samples, req)
		return err
	})
	b.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		b.metrics.RecordProviderRequest(ctx, b.name, "stt", "skipped")
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	case err != nil:
		b.metrics.RecordProviderRequest(ctx, b.name, "stt", "error")
		b.metrics.RecordProviderError(ctx, b.name, "stt")
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	b.metrics.RecordProviderRequest(ctx, b.name, "stt", "ok")
	return stt.JoinSegments(segs), nil
}

// utteranceSamples converts the frames of u into one contiguous float32
// buffer, allocated once.
func utteranceSamples(u Utterance) []float32 {
	out := make([]float32, u.Samples())
	off := 0
	for _, f := range u.Frames {
		off += audio.DecodePCM16(out[off:], f.Data)
	}
	return out[:off]
}
