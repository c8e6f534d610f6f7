// Package observe holds voxcore's observability plumbing: OpenTelemetry
// metric instruments, tracing helpers, trace-aware slog loggers and the HTTP
// middleware tying them to each request.
//
// Instruments are recorded through the OTel metrics API. [InitProvider]
// bridges them to Prometheus so /metrics keeps working. Components take a
// [*Metrics] through an option and fall back to [DefaultMetrics]; tests build
// their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxcore"

// Metrics is the set of instruments voxcore records. Instruments are safe for
// concurrent use.
type Metrics struct {
	// Latency and length histograms, in seconds.
	STTDuration         metric.Float64Histogram // recognizer calls
	TTSDuration         metric.Float64Histogram // synthesizer calls (cache misses)
	UtteranceDuration   metric.Float64Histogram // audio length of utterances
	HTTPRequestDuration metric.Float64Histogram // labelled method, route, status

	// Provider calls, labelled provider, kind ("stt", "tts", "archive") and
	// for requests also status ("ok", "error", "skipped").
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, labelled
	// breaker and state (the new state).
	BreakerTransitions metric.Int64Counter

	// Capture pipeline.
	Frames                metric.Int64Counter // labelled class: speech, non_speech
	Utterances            metric.Int64Counter
	EmptyTranscripts      metric.Int64Counter
	TranscriptCorrections metric.Int64Counter
	DeviceErrors          metric.Int64Counter
	ActiveSessions        metric.Int64UpDownCounter

	// Synthesis and playback.
	CacheLookups   metric.Int64Counter // labelled result: hit, miss
	CacheEvictions metric.Int64Counter
	Interruptions  metric.Int64Counter // labelled cause: barge_in, request

	// ConfigReloads counts applied config edits, labelled restart_required.
	ConfigReloads metric.Int64Counter
}

var (
	latencyBuckets   = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	utteranceBuckets = []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60}
)

// NewMetrics creates every instrument on mp's voxcore meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		STTDuration:         b.seconds("voxcore.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets),
		TTSDuration:         b.seconds("voxcore.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets),
		UtteranceDuration:   b.seconds("voxcore.utterance.duration", "Audio length of emitted utterances.", utteranceBuckets),
		HTTPRequestDuration: b.seconds("voxcore.http.request.duration", "HTTP request latency by method, route and status.", nil),

		ProviderRequests:   b.counter("voxcore.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     b.counter("voxcore.provider.errors", "Provider errors by provider and kind."),
		BreakerTransitions: b.counter("voxcore.breaker.transitions", "Circuit breaker state changes by breaker and new state."),

		Frames:                b.counter("voxcore.capture.frames", "Captured frames by classification."),
		Utterances:            b.counter("voxcore.utterances", "Utterances handed to transcription."),
		EmptyTranscripts:      b.counter("voxcore.transcripts.empty", "Utterances that transcribed to nothing."),
		TranscriptCorrections: b.counter("voxcore.transcripts.corrections", "Vocabulary substitutions made in transcripts."),
		DeviceErrors:          b.counter("voxcore.device.errors", "Audio device failures that ended a capture session."),
		ActiveSessions:        b.upDown("voxcore.active_sessions", "Running capture sessions."),

		CacheLookups:   b.counter("voxcore.cache.lookups", "Synthesis cache lookups by result."),
		CacheEvictions: b.counter("voxcore.cache.evictions", "Synthesis cache entries evicted."),
		Interruptions:  b.counter("voxcore.playback.interruptions", "Playback cut short, by cause."),

		ConfigReloads: b.counter("voxcore.config.reloads", "Applied configuration edits."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// builder collects instrument creation errors so NewMetrics reads as a
// table.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordBreakerTransition has the shape of a circuit breaker's state change
// hook once bound to a context.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("breaker", breaker), Attr("state", state)))
}

func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(Attr("class", choose(speech, "speech", "non_speech"))))
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(Attr("result", choose(hit, "hit", "miss"))))
}

// RecordInterruption counts playback cut short by the speaker talking
// (bargeIn) or by an explicit stop request.
func (m *Metrics) RecordInterruption(ctx context.Context, bargeIn bool) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(Attr("cause", choose(bargeIn, "barge_in", "request"))))
}

func (m *Metrics) RecordConfigReload(ctx context.Context, restartRequired bool) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.Bool("restart_required", restartRequired)))
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
