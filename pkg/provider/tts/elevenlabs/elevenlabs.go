// Package elevenlabs synthesizes speech with the ElevenLabs stream-input
// WebSocket API.
//
// Each Synthesize call opens one socket, sends the whole text followed by the
// end-of-input marker, and concatenates the audio frames until the server
// flags the stream final. Clips are in the configured output format,
// "mp3_44100_128" unless changed with [WithOutputFormat].
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	wsBaseURL        = "wss://api.elevenlabs.io"
	httpBaseURL      = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"

	apiKeyHeader = "xi-api-key"
	maxMessage   = 16 << 20
)

type Option func(*Synthesizer)

// WithModel selects the model, e.g. "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Synthesizer) { p.model = model }
}

// WithOutputFormat selects the audio encoding, e.g. "pcm_16000".
func WithOutputFormat(format string) Option {
	return func(p *Synthesizer) { p.outputFormat = format }
}

// WithBaseURLs points the synthesizer at other WebSocket and HTTP roots.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Synthesizer) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// WithHTTPClient replaces the client used for the handshake and the voices
// listing.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Synthesizer) { p.httpClient = c }
}

type Synthesizer struct {
	apiKey       string
	model        string
	outputFormat string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is empty")
	}
	p := &Synthesizer{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       wsBaseURL,
		httpBase:     httpBaseURL,
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Synthesizer) OutputFormat() string { return p.outputFormat }

// voiceSettings is the voice_settings object of the first message.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// outbound is every message the client sends. The first carries the voice
// settings and the API key, an empty Text ends the input.
type outbound struct {
	Text                 string         `json:"text"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
}

// audioResponse is a server message: an audio frame, the final marker or an
// error.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders text in voice.ID. Stability, Clarity and Style map to
// the voice settings of the same meaning.
func (p *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	switch {
	case voice.ID == "":
		return nil, errors.New("elevenlabs: voice ID is empty")
	case strings.TrimSpace(text) == "":
		return nil, errors.New("elevenlabs: text is empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{apiKeyHeader: {p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessage)

	script := []outbound{
		// The opening message must carry non-empty text.
		{Text: " ", XiAPIKey: p.apiKey, VoiceSettings: &voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.Clarity,
			Style:           voice.Style,
		}},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range script {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	clip, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return clip, nil
}

// collect reads frames until the final marker or a normal close, whichever
// comes first. Messages that are not JSON are skipped.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var clip bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if json.Unmarshal(msg, &resp) != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			frame, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			clip.Write(frame)
		}
		if resp.IsFinal {
			break
		}
	}
	if clip.Len() == 0 {
		return nil, errors.New("elevenlabs: stream ended without audio")
	}
	return clip.Bytes(), nil
}

func (p *Synthesizer) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// ListVoices returns the voices of the account in the order the API lists
// them. Labels become metadata, next to "category" when the API sets one.
func (p *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set(apiKeyHeader, p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("elevenlabs: list voices: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var body struct {
		Voices []struct {
			VoiceID  string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	out := make([]tts.VoiceInfo, 0, len(body.Voices))
	for _, v := range body.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		maps.Copy(meta, v.Labels)
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceInfo{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
