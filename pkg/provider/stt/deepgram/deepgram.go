// Package deepgram recognizes speech with the Deepgram streaming WebSocket
// API.
//
// Each Recognize call opens one socket, streams the utterance as linear16
// chunks, asks Deepgram to flush with CloseStream and collects the final
// results until the server closes the connection. Vocabulary from
// [stt.Request.Prompt] is sent as key terms (nova-3) or keywords (older
// models).
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is 100 ms of 16 kHz linear16 per binary message.
	chunkBytes = 3200
)

type Option func(*Recognizer)

// WithModel selects the model, e.g. "nova-3" or "base".
func WithModel(model string) Option {
	return func(p *Recognizer) { p.model = model }
}

// WithLanguage sets the BCP-47 language used when a request has none.
func WithLanguage(language string) Option {
	return func(p *Recognizer) { p.language = language }
}

// WithEndpoint points the recognizer at another listen endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Recognizer) { p.endpoint = endpoint }
}

type Recognizer struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is empty")
	}
	p := &Recognizer{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// streamURL is the listen endpoint with the query parameters for req.
func (p *Recognizer) streamURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cmp.Or(req.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", "1")

	// Only nova-3 understands keyterm; older models take keywords.
	param := "keywords"
	if strings.HasPrefix(p.model, "nova-3") {
		param = "keyterm"
	}
	for term := range strings.SplitSeq(req.Prompt, ",") {
		if term = strings.TrimSpace(term); term != "" {
			q.Add(param, term)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Recognize streams samples and returns Deepgram's final results in order.
func (p *Recognizer) Recognize(ctx context.Context, samples []float32, req stt.Request) ([]stt.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	wsURL, err := p.streamURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: endpoint: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results may arrive while audio is still being written.
	var segs []stt.Segment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		segs, err = readFinals(gctx, conn)
		return err
	})
	g.Go(func() error { return streamAudio(gctx, conn, audio.Float32ToPCM16(samples)) })
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("deepgram: %w", ctx.Err())
		}
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return segs, nil
}

func streamAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// readFinals collects final results until the socket closes. Deepgram may
// drop the connection right after the last result, so an abnormal close
// after at least one result still counts as success.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]stt.Segment, error) {
	var segs []stt.Segment
	for {
		_, msg, err := conn.Read(ctx)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			return segs, nil
		case len(segs) > 0 && ctx.Err() == nil:
			return segs, nil
		default:
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		if seg, ok := parseResult(msg); ok {
			segs = append(segs, seg)
		}
	}
}

// result is the subset of a Deepgram "Results" message voxcore reads.
type result struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult keeps final, non-empty results and drops everything else
// (interim results, metadata, malformed messages).
func parseResult(data []byte) (stt.Segment, bool) {
	var r result
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || !r.IsFinal {
		return stt.Segment{}, false
	}
	if len(r.Channel.Alternatives) == 0 || r.Channel.Alternatives[0].Transcript == "" {
		return stt.Segment{}, false
	}
	start := seconds(r.Start)
	return stt.Segment{
		Text:  r.Channel.Alternatives[0].Transcript,
		Start: start,
		End:   start + seconds(r.Duration),
	}, true
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

