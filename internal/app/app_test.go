package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/voxcore/internal/app"
	"github.com/MrWong99/voxcore/internal/resilience"
	"github.com/MrWong99/voxcore/internal/voice"
	audiomock "github.com/MrWong99/voxcore/pkg/audio/mock"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcore/pkg/provider/tts/mock"
)

func TestEngineConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.STT.Options["language"] = "de"
	agg := 3
	cfg.VAD.Aggressiveness = &agg

	got := app.EngineConfig(cfg)
	if got.SampleRate != 16000 || got.ChunkDuration != 30*time.Millisecond || got.SilenceThreshold != 60*time.Millisecond {
		t.Errorf("timing = %d %v %v", got.SampleRate, got.ChunkDuration, got.SilenceThreshold)
	}
	if got.Language != "de" || got.ModelSize != "tiny" || got.VADAggressiveness != 3 {
		t.Errorf("language=%q model=%q aggressiveness=%d", got.Language, got.ModelSize, got.VADAggressiveness)
	}
	if got.Voice.ID != "narrator" {
		t.Errorf("voice = %+v", got.Voice)
	}
	if got.Breaker.Name != "whisper-native" {
		t.Errorf("breaker name = %q", got.Breaker.Name)
	}

	cfg.STT.Name = ""
	if name := app.EngineConfig(cfg).Breaker.Name; name != "stt" {
		t.Errorf("breaker name without provider = %q, want stt", name)
	}
}

func TestNew_InvalidEngineConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Audio.ChunkDuration = -time.Second
	_, err := app.New(cfg, nil, app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, voice.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestServe_DrainsEventsAndStops(t *testing.T) {
	t.Parallel()
	speech := audiomock.Step{Data: pcmFrame(chunkSamples, 900)}
	silence := audiomock.Step{Data: pcmFrame(chunkSamples, 0)}
	r := newRig(t, testConfig(), []audiomock.Step{speech, silence, silence})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.app.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	waitFor(t, 2*time.Second, "server up", func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp, err := http.Post(base+"/listen/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// The poller moves events into the backlog without any client request.
	waitFor(t, 2*time.Second, "transcript in backlog", func() bool {
		for _, e := range r.app.Events().Since(0) {
			if e.Kind == "speech_detected" && e.Text == "open the gate" {
				return true
			}
		}
		return false
	})

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.ListenAddr = ln.Addr().String()
	a, err := app.New(cfg, nil, app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(t.Context()); err == nil {
		t.Fatal("Run on an occupied address should fail")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)
	if err := r.app.Shutdown(t.Context()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := r.app.Shutdown(t.Context()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if r.sink.CloseCount != 1 {
		t.Errorf("sink closed %d times, want 1", r.sink.CloseCount)
	}
}

func TestReadyz_TTSChainOpen(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Synthesizer{Format: "wav", SynthesizeErr: errors.New("down")}
	chain := resilience.NewTTSFallback(synth, "coqui", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Logger:         discardLogger(),
	})
	a, err := app.New(testConfig(), &app.Providers{TTS: chain, TTSName: "coqui", TTSChain: chain},
		app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if rec := httptestDo(t, a, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("before failure: status %d", rec.Code)
	}
	if _, err := chain.Synthesize(t.Context(), "hi", tts.Voice{ID: "p225"}); err == nil {
		t.Fatal("Synthesize should fail")
	}

	rec := httptestDo(t, a, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Checks["tts"] == "ok" {
		t.Errorf("tts check = %q, want failure", body.Checks["tts"])
	}
}
