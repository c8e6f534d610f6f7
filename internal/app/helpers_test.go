package app_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxcore/internal/app"
	"github.com/MrWong99/voxcore/internal/config"
	"github.com/MrWong99/voxcore/internal/observe"
	audiomock "github.com/MrWong99/voxcore/pkg/audio/mock"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcore/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcore/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/voxcore/pkg/provider/vad/mock"
)

// Test chunks are 30 ms at 16 kHz (480 samples) and two silent chunks close
// an utterance.
const chunkSamples = 480

// testConfig returns a loaded-and-defaulted config tuned for fast tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr:   "127.0.0.1:0",
			LogLevel:     config.LogInfo,
			PollInterval: 5 * time.Millisecond,
			EventBacklog: 16,
		},
		Audio: config.AudioConfig{
			Backend:       config.AudioWAV,
			WAVPath:       "unused.wav",
			ChunkDuration: 30 * time.Millisecond,
			Playback:      true,
		},
		VAD: config.VADConfig{Name: "webrtc", SilenceThreshold: 60 * time.Millisecond},
		STT: config.STTConfig{ProviderEntry: config.ProviderEntry{Name: "whisper-native", Model: "tiny"}},
		TTS: config.TTSConfig{
			ProviderEntry: config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002"},
			Voice:         config.VoiceConfig{VoiceID: "narrator"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// pcmFrame returns n samples all set to v.
func pcmFrame(n int, v int16) []byte {
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

type rig struct {
	app    *app.App
	server *httptest.Server
	stream *audiomock.Stream
	rec    *sttmock.Recognizer
	synth  *ttsmock.Synthesizer
	sink   *audiomock.Sink
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newRig builds an app from mocks. The stream plays script once and then
// behaves like a silent device. opts are applied after the test logger and
// metrics.
func newRig(t *testing.T, cfg *config.Config, script []audiomock.Step, opts ...app.Option) *rig {
	t.Helper()
	r := &rig{
		stream: &audiomock.Stream{Steps: script},
		rec:    &sttmock.Recognizer{Segments: []stt.Segment{{Text: " open the gate "}}},
		synth: &ttsmock.Synthesizer{
			AudioFunc: func(text string, v tts.Voice) []byte { return []byte(v.ID + "|" + text) },
			Format:    "wav",
			ListVoicesResult: []tts.VoiceInfo{
				{ID: "p225", Name: "p225", Provider: "coqui", Metadata: map[string]string{"type": "speaker"}},
			},
		},
		sink: &audiomock.Sink{},
	}
	providers := &app.Providers{
		Source:  &audiomock.Source{Stream: r.stream},
		VAD:     &vadmock.Engine{Session: &vadmock.Session{ClassifyFunc: vadmock.Loudness}},
		Sink:    r.sink,
		STT:     r.rec,
		STTName: "whisper-native",
		TTS:     r.synth,
		TTSName: "coqui",
	}
	opts = append([]app.Option{app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.app = a
	r.server = httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		r.server.Close()
		_ = a.Shutdown(context.Background())
	})
	return r
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
