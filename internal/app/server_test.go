package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxcore/internal/app"
	"github.com/MrWong99/voxcore/internal/voice"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/audio/mixer"
	audiomock "github.com/MrWong99/voxcore/pkg/audio/mock"
)

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

// httptestDo serves a single request against the app handler.
func httptestDo(t *testing.T, a *app.App, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

type eventsBody struct {
	Events []app.EventRecord `json:"events"`
	Next   uint64            `json:"next"`
}

func getEvents(t *testing.T, base string, since uint64) eventsBody {
	t.Helper()
	resp, data := doJSON(t, http.MethodGet, fmt.Sprintf("%s/events?since=%d", base, since), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /events: status %d: %s", resp.StatusCode, data)
	}
	var body eventsBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	return body
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, data := doJSON(t, http.MethodGet, r.server.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d: %s", path, resp.StatusCode, data)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, _ := doJSON(t, http.MethodGet, r.server.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodGet, r.server.URL+"/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"listening":       false,
		"stt_available":   true,
		"tts_configured":  true,
		"vad_available":   true,
		"audio_available": true,
		"model_size":      "tiny",
		"sample_rate":     float64(16000),
		"voice_id":        "narrator",
		"stt_provider":    "whisper-native",
		"tts_provider":    "coqui",
		"stt_breaker":     "closed",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
	if _, ok := body["fallbacks"]; ok {
		t.Error("fallbacks should be omitted without fallback chains")
	}
}

func TestListenAndEvents(t *testing.T) {
	t.Parallel()
	speech := audiomock.Step{Data: pcmFrame(chunkSamples, 1200)}
	silence := audiomock.Step{Data: pcmFrame(chunkSamples, 0)}
	r := newRig(t, testConfig(), []audiomock.Step{speech, speech, silence, silence, silence})

	resp, data := doJSON(t, http.MethodPost, r.server.URL+"/listen/start", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("listen/start: status %d: %s", resp.StatusCode, data)
	}

	var got []app.EventRecord
	var cursor uint64
	waitFor(t, 2*time.Second, "speech_detected", func() bool {
		body := getEvents(t, r.server.URL, cursor)
		got = append(got, body.Events...)
		cursor = body.Next
		for _, e := range got {
			if e.Kind == "speech_detected" {
				return true
			}
		}
		return false
	})

	if got[0].Kind != "listening_started" || got[0].Seq != 1 {
		t.Errorf("first event = %+v, want listening_started #1", got[0])
	}
	last := got[len(got)-1]
	if last.Text != "open the gate" || last.UtteranceID == "" {
		t.Errorf("speech event = %+v", last)
	}
	if n := len(r.rec.Calls()[0].Samples); n != 4*chunkSamples {
		t.Errorf("transcribed %d samples, want %d (two speech and two silent chunks)", n, 4*chunkSamples)
	}

	resp, data = doJSON(t, http.MethodPost, r.server.URL+"/listen/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("listen/stop: status %d: %s", resp.StatusCode, data)
	}
	body := getEvents(t, r.server.URL, cursor)
	if len(body.Events) != 1 || body.Events[0].Kind != "listening_stopped" {
		t.Errorf("events after stop = %+v, want one listening_stopped", body.Events)
	}

	// The cursor past the newest event yields nothing.
	body = getEvents(t, r.server.URL, body.Next)
	if len(body.Events) != 0 {
		t.Errorf("events past cursor = %+v", body.Events)
	}
}

func TestListenStart_DeviceFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a, err := app.New(cfg, &app.Providers{
		Source: &audiomock.Source{OpenErr: errors.New("no microphone")},
	}, app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	rec := httptestDo(t, a, http.MethodPost, "/listen/start", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no microphone") {
		t.Errorf("body should carry the device error, got %s", rec.Body.String())
	}
}

func TestEvents_BadCursor(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)
	resp, _ := doJSON(t, http.MethodGet, r.server.URL+"/events?since=-3", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestSpeak(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodPost, r.server.URL+"/speak", map[string]string{"text": "  welcome  "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if r.sink.PlayCount() != 1 || string(r.sink.Played[0]) != "narrator|welcome" {
		t.Errorf("played = %q", r.sink.Played)
	}

	// Same text again is served from cache.
	doJSON(t, http.MethodPost, r.server.URL+"/speak", map[string]string{"text": "welcome"})
	if r.synth.CallCount() != 1 {
		t.Errorf("synthesizer called %d times, want 1", r.synth.CallCount())
	}
}

func TestStopSpeaking_Idle(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodDelete, r.server.URL+"/speak", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var body map[string]bool
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if body["interrupted"] {
		t.Error("nothing was playing, interrupted should be false")
	}
}

func TestSpeak_BadRequests(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text": "   "}`},
		{"not json", `hello`},
		{"unknown field", `{"text": "hi", "speed": 2}`},
	}
	for _, tc := range tests {
		resp, err := http.Post(r.server.URL+"/speak", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", tc.name, resp.StatusCode)
		}
	}
	if r.synth.CallCount() != 0 {
		t.Error("synthesizer should not be called for bad requests")
	}
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)
	r.synth.SetError(errors.New("quota exceeded"))

	resp, data := doJSON(t, http.MethodPost, r.server.URL+"/speak", map[string]string{"text": "hi"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status %d, want 502: %s", resp.StatusCode, data)
	}
}

func TestSynthesize_ReturnsClip(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodPost, r.server.URL+"/synthesize", map[string]string{"text": "hi", "voice_id": "p225"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if string(data) != "p225|hi" {
		t.Errorf("clip = %q, want p225|hi", data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	if r.sink.PlayCount() != 0 {
		t.Error("synthesize must not play")
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodGet, r.server.URL+"/voices", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var body struct {
		Voices []struct {
			ID       string            `json:"id"`
			Provider string            `json:"provider"`
			Metadata map[string]string `json:"metadata"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Voices) != 1 || body.Voices[0].ID != "p225" || body.Voices[0].Metadata["type"] != "speaker" {
		t.Errorf("voices = %+v", body.Voices)
	}
}

func TestSetVoice(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, data := doJSON(t, http.MethodPut, r.server.URL+"/voice", map[string]any{"voice_id": "bard", "stability": 0.3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if got := r.app.Engine().Cache().Defaults(); got.ID != "bard" || got.Stability != 0.3 {
		t.Errorf("defaults = %+v", got)
	}

	for _, body := range []map[string]any{
		{"voice_id": ""},
		{"voice_id": "bard", "style": 2},
	} {
		resp, _ := doJSON(t, http.MethodPut, r.server.URL+"/voice", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%v: status %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestTranscribe_RawAndMultipart(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)
	wav := audio.EncodeWAV(pcmFrame(1600, 500), 16000)

	resp, err := http.Post(r.server.URL+"/transcribe", "audio/wav", bytes.NewReader(wav))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Text  string `json:"text"`
		Empty bool   `json:"empty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body.Text != "open the gate" || body.Empty {
		t.Fatalf("raw: status %d body %+v", resp.StatusCode, body)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(wav)
	mw.Close()
	resp, err = http.Post(r.server.URL+"/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("multipart: status %d", resp.StatusCode)
	}
	if got := r.rec.CallCount(); got != 2 {
		t.Errorf("recognizer called %d times, want 2", got)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, err := http.Post(r.server.URL+"/transcribe", "audio/mpeg", strings.NewReader("ID3 not a wav"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("non-wav: status %d, want 415", resp.StatusCode)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("text", "no file")
	mw.Close()
	resp, err = http.Post(r.server.URL+"/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing field: status %d, want 400", resp.StatusCode)
	}

	r.rec.SetResult(nil, errors.New("model crashed"))
	resp, err = http.Post(r.server.URL+"/transcribe", "audio/wav", bytes.NewReader(audio.EncodeWAV(pcmFrame(160, 1), 16000)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("recognizer failure: status %d, want 502", resp.StatusCode)
	}
}

func TestUnconfiguredProviders(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig(), nil, app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/speak", `{"text":"hi"}`},
		{http.MethodPost, "/synthesize", `{"text":"hi"}`},
		{http.MethodGet, "/voices", ""},
		{http.MethodPost, "/listen/start", ""},
	} {
		rec := httptestDo(t, a, tc.method, tc.path, strings.NewReader(tc.body))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status %d, want 503", tc.method, tc.path, rec.Code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", voice.ErrConfiguration), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", voice.ErrSynthesis), http.StatusBadGateway},
		{fmt.Errorf("x: %w", voice.ErrRecognition), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", voice.ErrSynthesis, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("voice: play: %w", mixer.ErrInterrupted), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := app.StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"mp3_44100_128": "audio/mpeg",
		"wav":           "audio/wav",
		"pcm_16000":     "audio/L16; rate=16000; channels=1",
		"pcm":           "audio/L16; rate=24000; channels=1",
		"opus":          "audio/ogg",
		"":              "application/octet-stream",
	}
	for format, want := range tests {
		if got := app.ContentType(format); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", format, got, want)
		}
	}
}
