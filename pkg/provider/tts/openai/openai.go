// Package openai provides a TTS synthesizer backed by the OpenAI speech
// endpoint (or any compatible server reachable via WithBaseURL).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

const (
	// DefaultModel is the default speech model.
	DefaultModel = "tts-1"

	// DefaultFormat is the default response format.
	DefaultFormat = "mp3"
)

// builtinVoices is the fixed voice catalogue of the speech endpoint.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

// Ensure Synthesizer implements the tts.Synthesizer interface.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	format string
}

// config holds optional configuration for the synthesizer.
type config struct {
	baseURL string
	format  string
	timeout time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithFormat sets the response format ("mp3", "wav", "pcm", ...).
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI Synthesizer. If model is empty, DefaultModel is
// used.
func New(apiKey string, model string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{format: DefaultFormat}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Synthesizer{
		client: oai.NewClient(reqOpts...),
		model:  model,
		format: cfg.format,
	}, nil
}

// OutputFormat implements tts.Synthesizer.
func (p *Synthesizer) OutputFormat() string { return p.format }

// Synthesize implements tts.Synthesizer. The speech endpoint has no
// stability or clarity controls, so only voice.ID is used.
func (p *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(clip) == 0 {
		return nil, errors.New("openai tts: empty audio response")
	}
	return clip, nil
}

// ListVoices returns the built-in voice catalogue. The API offers no listing
// endpoint, so no request is made.
func (p *Synthesizer) ListVoices(_ context.Context) ([]tts.VoiceInfo, error) {
	infos := make([]tts.VoiceInfo, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		infos = append(infos, tts.VoiceInfo{
			ID:       v,
			Name:     strings.ToUpper(v[:1]) + v[1:],
			Provider: "openai",
			Metadata: map[string]string{"model": p.model},
		})
	}
	return infos, nil
}
