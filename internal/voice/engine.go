// Package voice implements the voice interaction pipeline: continuous
// capture, voice activity segmentation, transcription of completed
// utterances and cached speech synthesis.
//
// The capture side runs on one background goroutine owned by [CaptureLoop]:
//
//	audio.Stream -> vad session -> SegmentAccumulator -> TranscriptionBridge -> EventChannel
//
// The control side polls the [EventChannel] on its own schedule and turns
// replies into audio through the [SynthesisCache]. [Engine] ties both halves
// together behind one facade.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/internal/resilience"
	"github.com/MrWong99/voxcore/internal/transcript"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/audio/mixer"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// Config holds the tuning values of an [Engine].
type Config struct {
	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int

	// ChunkDuration is the length of one captured frame. Default: 500ms.
	ChunkDuration time.Duration

	// SilenceThreshold is how much trailing silence closes an utterance.
	// Default: 2s.
	SilenceThreshold time.Duration

	// VADFrameMs is the classifier window (10, 20 or 30). Default: 30.
	VADFrameMs int

	// VADAggressiveness is the classifier mode from 0 to 3.
	VADAggressiveness int

	// Language is the recognition language hint.
	Language string

	// ModelSize names the recognition model, reported in [Status].
	ModelSize string

	// Vocabulary are spellings that transcripts are corrected towards.
	Vocabulary []string

	// Voice is the default synthesis voice and shaping.
	Voice tts.Voice

	// CacheEntries and EvictBatch bound the synthesis cache.
	CacheEntries int
	EvictBatch   int

	// SingleFlight collapses concurrent identical synthesis misses.
	SingleFlight bool

	// Breaker tunes the circuit breaker in front of the recognizer.
	Breaker resilience.CircuitBreakerConfig

	// PlaybackGap is the pause between consecutive spoken clips.
	PlaybackGap time.Duration

	// BargeIn stops playback as soon as the speaker starts talking.
	BargeIn bool
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = 500 * time.Millisecond
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 2 * time.Second
	}
	if c.VADFrameMs == 0 {
		c.VADFrameMs = 30
	}
	if c.CacheEntries == 0 {
		c.CacheEntries = DefaultCacheEntries
	}
	if c.EvictBatch == 0 {
		c.EvictBatch = DefaultEvictBatch
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "stt"
	}
}

// Deps are the external collaborators of an [Engine]. Every field may be nil;
// the matching operations then fail with [ErrConfiguration] and [Status]
// reports the gap. A nil VAD classifies everything as speech.
type Deps struct {
	Source audio.Source
	VAD    vad.Engine
	Sink   audio.Sink

	Recognizer     stt.Recognizer
	RecognizerName string

	Synthesizer     tts.Synthesizer
	SynthesizerName string
}

// Status is a point-in-time snapshot of the engine, computed on every call.
type Status struct {
	Listening     bool `json:"listening"`
	STTAvailable  bool `json:"stt_available"`
	TTSConfigured bool `json:"tts_configured"`

	VADAvailable   bool   `json:"vad_available"`
	AudioAvailable bool   `json:"audio_available"`
	ModelSize      string `json:"model_size,omitempty"`
	SampleRate     int    `json:"sample_rate"`
	VoiceID        string `json:"voice_id,omitempty"`
	CacheEntries   int    `json:"cache_entries"`
	STTBreaker     string `json:"stt_breaker"`
	Speaking       bool   `json:"speaking"`
}

// Option configures an [Engine].
type Option func(*engineOptions)

type engineOptions struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// WithLogger sets the logger for the engine and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink for the engine and its components.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// Engine is the facade over the capture and synthesis halves.
type Engine struct {
	cfg     Config
	deps    Deps
	events  *EventChannel
	bridge  *TranscriptionBridge
	capture *CaptureLoop
	cache   *SynthesisCache
	player  *mixer.Queue
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New validates cfg and assembles an engine. It opens nothing; the device is
// acquired by Start. Errors wrap [ErrConfiguration].
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	o := engineOptions{logger: slog.Default(), metrics: observe.DefaultMetrics()}
	for _, fn := range opts {
		fn(&o)
	}
	cfg.applyDefaults()

	if cfg.ChunkDuration < 0 || cfg.SilenceThreshold < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", ErrConfiguration)
	}
	frameSamples := int(int64(cfg.SampleRate) * int64(cfg.ChunkDuration) / int64(time.Second))
	capCfg := CaptureConfig{
		Stream: audio.StreamConfig{SampleRate: cfg.SampleRate, FrameSamples: frameSamples},
		VAD: vad.Config{
			SampleRate:     cfg.SampleRate,
			FrameSizeMs:    cfg.VADFrameMs,
			Aggressiveness: cfg.VADAggressiveness,
		},
		SilenceFrames: SilenceFrames(cfg.SilenceThreshold, cfg.ChunkDuration),
	}
	if deps.VAD == nil {
		deps.VAD = vad.FailOpen()
	}

	events := NewEventChannel()
	bridge := NewTranscriptionBridge(deps.Recognizer,
		stt.Request{SampleRate: cfg.SampleRate, Language: cfg.Language},
		WithBridgeBreaker(cfg.Breaker),
		WithBridgeMetrics(o.metrics),
		WithBridgeLogger(o.logger),
		WithProviderName(nameOr(deps.RecognizerName, "stt")),
		WithVocabulary(transcript.New(cfg.Vocabulary)),
	)
	capture, err := NewCaptureLoop(deps.Source, deps.VAD, bridge, events, capCfg, o.metrics, o.logger)
	if err != nil {
		return nil, err
	}
	cache := NewSynthesisCache(deps.Synthesizer,
		WithCapacity(cfg.CacheEntries, cfg.EvictBatch),
		WithSingleFlight(cfg.SingleFlight),
		WithDefaultVoice(cfg.Voice),
		WithCacheMetrics(o.metrics),
		WithCacheLogger(o.logger),
		WithSynthesizerName(nameOr(deps.SynthesizerName, "tts")),
	)

	if vad.IsFailOpen(deps.VAD) {
		o.logger.Warn("no voice activity detector configured, every frame counts as speech")
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		events:  events,
		bridge:  bridge,
		capture: capture,
		cache:   cache,
		metrics: o.metrics,
		logger:  o.logger,
	}
	if deps.Sink != nil {
		e.player = mixer.New(deps.Sink, mixer.WithGap(cfg.PlaybackGap), mixer.WithLogger(o.logger))
		if cfg.BargeIn {
			capture.OnSpeechStart(func() {
				if e.player.Interrupt() {
					e.metrics.RecordInterruption(context.Background(), true)
					o.logger.Info("speaker barged in, playback interrupted")
				}
			})
		}
	}
	return e, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// Events returns the channel the capture side publishes to.
func (e *Engine) Events() *EventChannel { return e.events }

// Cache returns the synthesis cache.
func (e *Engine) Cache() *SynthesisCache { return e.cache }

// Start begins listening. See [CaptureLoop.Start].
func (e *Engine) Start(ctx context.Context) error { return e.capture.Start(ctx) }

// Stop ends listening. See [CaptureLoop.Stop].
func (e *Engine) Stop() { e.capture.Stop() }

// Status returns a fresh snapshot.
func (e *Engine) Status() Status {
	return Status{
		Listening:      e.capture.Listening(),
		STTAvailable:   e.bridge.Available(),
		TTSConfigured:  e.deps.Synthesizer != nil,
		VADAvailable:   !vad.IsFailOpen(e.deps.VAD),
		AudioAvailable: e.deps.Source != nil,
		ModelSize:      e.cfg.ModelSize,
		SampleRate:     e.cfg.SampleRate,
		VoiceID:        e.cache.Defaults().ID,
		CacheEntries:   e.cache.Len(),
		STTBreaker:     e.bridge.BreakerState().String(),
		Speaking:       e.player != nil && e.player.Busy(),
	}
}

// GetOrSynthesize returns the clip for text in voiceID (or the default
// voice), from cache when possible.
func (e *Engine) GetOrSynthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return e.cache.GetOrSynthesize(ctx, text, voiceID)
}

// Speak synthesizes text and plays it, blocking until playback finished.
func (e *Engine) Speak(ctx context.Context, text, voiceID string) error {
	return e.SpeakPriority(ctx, text, voiceID, 0)
}

// SpeakPriority is Speak with a playback priority. A clip with a higher
// priority than the one playing cuts it off; the cut clip's caller gets an
// error wrapping [mixer.ErrInterrupted].
func (e *Engine) SpeakPriority(ctx context.Context, text, voiceID string, priority int) error {
	if e.player == nil {
		return fmt.Errorf("%w: no playback sink configured", ErrConfiguration)
	}
	clip, err := e.cache.GetOrSynthesize(ctx, text, voiceID)
	if err != nil {
		return err
	}
	if err := e.player.PlayPriority(ctx, clip, priority); err != nil {
		if !errors.Is(err, mixer.ErrInterrupted) {
			e.logger.Warn("playback failed", "err", err)
		}
		return fmt.Errorf("voice: play: %w", err)
	}
	return nil
}

// StopSpeaking cuts off the playing clip and drops every queued one. It
// reports whether anything was playing or queued.
func (e *Engine) StopSpeaking() bool {
	if e.player == nil || !e.player.Interrupt() {
		return false
	}
	e.metrics.RecordInterruption(context.Background(), false)
	return true
}

// SetSynthesisDefaults replaces the default voice and shaping values.
func (e *Engine) SetSynthesisDefaults(v tts.Voice) {
	e.cache.SetDefaults(v)
	e.logger.Info("synthesis defaults updated", "voice_id", v.ID)
}

// ListVoices returns the voices offered by the synthesizer.
func (e *Engine) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	if e.deps.Synthesizer == nil {
		return nil, fmt.Errorf("%w: no synthesizer configured", ErrConfiguration)
	}
	voices, err := e.deps.Synthesizer.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list voices: %w", ErrSynthesis, err)
	}
	return voices, nil
}

// TranscribeFile transcribes a WAV file outside the capture loop. Unlike
// utterances from the microphone, failures are returned to the caller.
func (e *Engine) TranscribeFile(ctx context.Context, path string) (string, error) {
	if e.deps.Recognizer == nil {
		return "", fmt.Errorf("%w: no recognizer configured", ErrConfiguration)
	}
	segs, err := stt.RecognizeFile(ctx, e.deps.Recognizer, path, e.request())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	return e.bridge.correct(ctx, stt.JoinSegments(segs)), nil
}

// TranscribeWAV is TranscribeFile for a WAV stream.
func (e *Engine) TranscribeWAV(ctx context.Context, r io.Reader) (string, error) {
	if e.deps.Recognizer == nil {
		return "", fmt.Errorf("%w: no recognizer configured", ErrConfiguration)
	}
	pcm, info, err := audio.DecodeWAV(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	segs, err := stt.RecognizeWAV(ctx, e.deps.Recognizer, pcm, info, e.request())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	return e.bridge.correct(ctx, stt.JoinSegments(segs)), nil
}

// SetVocabulary replaces the correction vocabulary. Utterances already being
// transcribed may still use the previous one.
func (e *Engine) SetVocabulary(terms []string) {
	e.bridge.SetVocabulary(transcript.New(terms))
}

func (e *Engine) request() stt.Request {
	return stt.Request{SampleRate: e.cfg.SampleRate, Language: e.cfg.Language}
}

// Close stops listening and releases the playback sink.
func (e *Engine) Close() error {
	e.capture.Stop()
	if e.player != nil {
		return e.player.Close()
	}
	return nil
}
