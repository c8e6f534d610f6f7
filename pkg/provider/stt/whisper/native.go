// Native links whisper.cpp through its CGO bindings. libwhisper.a and
// whisper.h must be reachable through LIBRARY_PATH and C_INCLUDE_PATH when
// building.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxcore/pkg/provider/stt"
)

var _ stt.Recognizer = (*Native)(nil)

// autoLanguage asks whisper.cpp to detect the spoken language.
const autoLanguage = "auto"

// Native runs whisper.cpp inference in-process. The model is shared; every
// Recognize call gets its own inference context, so calls may overlap.
type Native struct {
	model        whisperlib.Model
	multilingual bool
	languages    []string
	language     string
	threads      uint
	logger       *slog.Logger
}

// NativeOption configures a [Native] recognizer.
type NativeOption func(*Native)

// WithNativeLanguage sets the language used when a request carries none.
// "auto" enables detection on multilingual models. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// WithNativeThreads sets the CPU threads per inference. Zero keeps the
// whisper.cpp default.
func WithNativeThreads(n int) NativeOption {
	return func(p *Native) {
		if n > 0 {
			p.threads = uint(n)
		}
	}
}

// WithNativeLogger sets the logger. Defaults to slog.Default().
func WithNativeLogger(l *slog.Logger) NativeOption {
	return func(p *Native) { p.logger = l }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Native{
		model:        model,
		multilingual: model.IsMultilingual(),
		languages:    model.Languages(),
		language:     defaultLanguage,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("stt", "whisper-native", "model", modelPath)
	if !p.multilingual && p.language != defaultLanguage {
		p.logger.Warn("model is English-only, ignoring configured language", "language", p.language)
		p.language = defaultLanguage
	}
	return p, nil
}

// Close releases the model.
func (p *Native) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Multilingual reports whether the loaded model understands languages other
// than English.
func (p *Native) Multilingual() bool { return p.multilingual }

// Recognize runs inference over samples. whisper.cpp is fixed at 16 kHz, so
// other rates are rejected instead of being misread. When ctx ends before
// the encoder starts, inference is aborted and ctx's error returned.
func (p *Native) Recognize(ctx context.Context, samples []float32, req stt.Request) ([]stt.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if req.SampleRate != 0 && req.SampleRate != whisperlib.SampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d Hz not supported (want %d)", req.SampleRate, whisperlib.SampleRate)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.languageFor(req.Language)); err != nil {
		p.logger.Warn("cannot set language, using model default", "language", req.Language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, proceed, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whisper: %w", ctxErr)
		}
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var segs []stt.Segment
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return segs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segs = append(segs, stt.Segment{Text: s.Text, Start: s.Start, End: s.End})
	}
}

// languageFor picks the language for one call. A request hint the model
// does not know falls back to the configured language.
func (p *Native) languageFor(hint string) string {
	switch {
	case hint == "":
		return p.language
	case !p.multilingual:
		return defaultLanguage
	case hint == autoLanguage || slices.Contains(p.languages, hint):
		return hint
	default:
		p.logger.Debug("unknown language hint", "language", hint, "using", p.language)
		return p.language
	}
}
