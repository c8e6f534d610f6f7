// Package coqui synthesizes speech with a self-hosted Coqui TTS server.
//
// Coqui ships two incompatible HTTP servers, selected with [WithAPIMode]:
//
//   - [APIModeStandard], the default, is the stock "tts-server"
//     (ghcr.io/coqui-ai/tts-cpu): GET /api/tts with query parameters, voices
//     from GET /details.
//   - [APIModeXTTS] is the XTTS v2 API server: POST /tts_to_audio/ with a JSON
//     body, voices from GET /studio_speakers.
//
// Either way the answer is a complete 16-bit PCM WAV file, which is checked
// and returned unchanged.
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	// errBodyLimit caps how much of an error response ends up in the error.
	errBodyLimit = 256
)

// APIMode names a Coqui server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// dialect is what differs between the two servers.
type dialect interface {
	synthesisRequest(ctx context.Context, base, lang, text string, voice tts.Voice) (*http.Request, error)
	voicesEndpoint() string
	parseVoices(body io.Reader) ([]tts.VoiceInfo, error)
}

var dialects = map[APIMode]dialect{
	APIModeStandard: standardAPI{},
	APIModeXTTS:     xttsAPI{},
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithLanguage sets the language sent with every request. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Synthesizer) { p.language = lang }
}

// WithTimeout bounds each HTTP call. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Synthesizer) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Defaults to [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Synthesizer) { p.apiMode = mode }
}

// WithHTTPClient replaces the HTTP client; WithTimeout then applies to it.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Synthesizer) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Synthesizer talks to one Coqui server.
type Synthesizer struct {
	serverURL  string
	language   string
	apiMode    APIMode
	api        dialect
	httpClient *http.Client
}

// New returns a synthesizer for the server at serverURL, for example
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is empty")
	}
	p := &Synthesizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	api, ok := dialects[p.apiMode]
	if !ok {
		return nil, fmt.Errorf("coqui: unknown api mode %q (want %q or %q)", p.apiMode, APIModeStandard, APIModeXTTS)
	}
	p.api = api
	return p, nil
}

// OutputFormat reports "wav"; both servers only produce WAV.
func (p *Synthesizer) OutputFormat() string { return "wav" }

// Synthesize renders text with voice.ID as the speaker. Stability, clarity
// and style have no Coqui equivalent and are ignored.
func (p *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text is empty")
	}
	req, err := p.api.synthesisRequest(ctx, p.serverURL, p.language, text, voice)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	wav, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	if _, _, err := audio.DecodeWAV(bytes.NewReader(wav)); err != nil {
		return nil, fmt.Errorf("coqui: unusable audio from %s: %w", req.URL.Path, err)
	}
	return wav, nil
}

// ListVoices returns the server's speakers sorted by name.
func (p *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+p.api.voicesEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	voices, err := p.api.parseVoices(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode %s: %w", req.URL.Path, err)
	}
	slices.SortFunc(voices, func(a, b tts.VoiceInfo) int { return strings.Compare(a.ID, b.ID) })
	return voices, nil
}

// do sends req and returns the body of a 200 response. Other statuses become
// errors quoting the start of the body, where Coqui puts its traceback.
func (p *Synthesizer) do(req *http.Request) (io.ReadCloser, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	defer resp.Body.Close()
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	msg := strings.TrimSpace(string(excerpt))
	if msg == "" {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil, fmt.Errorf("coqui: %s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
}

// ── standard tts-server ─────────────────────────────────────────────────────

type standardAPI struct{}

func (standardAPI) synthesisRequest(ctx context.Context, base, lang, text string, voice tts.Voice) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+apiTTSEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build tts request: %w", err)
	}
	return req, nil
}

func (standardAPI) voicesEndpoint() string { return detailsEndpoint }

// parseVoices lists one voice per speaker of a multi-speaker model, or a
// single voice named after a single-speaker model.
func (standardAPI) parseVoices(body io.Reader) ([]tts.VoiceInfo, error) {
	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := json.NewDecoder(body).Decode(&details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		name := cmp.Or(details.ModelName, "default")
		return []tts.VoiceInfo{voiceInfo(name, "single-speaker", name)}, nil
	}
	out := make([]tts.VoiceInfo, 0, len(details.Speakers))
	for _, spk := range details.Speakers {
		out = append(out, voiceInfo(spk, "speaker", details.ModelName))
	}
	return out, nil
}

// ── XTTS v2 API server ──────────────────────────────────────────────────────

type xttsAPI struct{}

func (xttsAPI) synthesisRequest(ctx context.Context, base, lang, text string, voice tts.Voice) (*http.Request, error) {
	if voice.ID == "" {
		return nil, errors.New("coqui: xtts needs a voice ID (speaker wav)")
	}
	data, err := json.Marshal(struct {
		Text       string `json:"text"`
		SpeakerWav string `json:"speaker_wav"`
		Language   string `json:"language"`
	}{Text: text, SpeakerWav: voice.ID, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (xttsAPI) voicesEndpoint() string { return studioSpeakersEndpoint }

// parseVoices reads the studio speaker map; only its keys matter.
func (xttsAPI) parseVoices(body io.Reader) ([]tts.VoiceInfo, error) {
	var speakers map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&speakers); err != nil {
		return nil, err
	}
	out := make([]tts.VoiceInfo, 0, len(speakers))
	for name := range speakers {
		out = append(out, voiceInfo(name, "studio", ""))
	}
	return out, nil
}

func voiceInfo(id, kind, model string) tts.VoiceInfo {
	meta := map[string]string{"type": kind}
	if model != "" {
		meta["model_name"] = model
	}
	return tts.VoiceInfo{ID: id, Name: id, Provider: "coqui", Metadata: meta}
}

