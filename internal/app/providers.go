package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxcore/internal/config"
	"github.com/MrWong99/voxcore/internal/resilience"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// Providers holds one value per provider slot. Nil means the slot is not
// configured; the engine then reports the gap in its status.
type Providers struct {
	Source audio.Source
	VAD    vad.Engine
	Sink   audio.Sink

	STT     stt.Recognizer
	STTName string
	TTS     tts.Synthesizer
	TTSName string

	// STTChain and TTSChain are set when fallbacks are configured. STT and
	// TTS then point at the same chain.
	STTChain *resilience.STTFallback
	TTSChain *resilience.TTSFallback

	closers []io.Closer
}

// Close releases providers that hold native resources (e.g. a loaded
// whisper model). The sink is owned by the engine and not closed here.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

// BuildProviders instantiates every provider named in cfg using reg. An
// empty name leaves the slot unset. A primary name without a registered
// factory is an error wrapping [config.ErrProviderNotRegistered]; an
// unregistered fallback is skipped with a warning.
func BuildProviders(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
		},
		Logger: logger,
	}

	skipFallback := func(kind, name string, err error) bool {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			logger.Warn("fallback not registered, skipping", "kind", kind, "name", name)
			return true
		}
		return false
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	if name := cfg.STT.Name; name != "" {
		rec, err := reg.CreateSTT(cfg.STT.ProviderEntry)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.track(rec)
		ps.STT, ps.STTName = rec, name
		logger.Info("provider created", "kind", "stt", "name", name)
	}
	if ps.STT != nil && len(cfg.STT.Fallbacks) > 0 {
		chain := resilience.NewSTTFallback(ps.STT, ps.STTName, fbCfg)
		for _, entry := range cfg.STT.Fallbacks {
			rec, err := reg.CreateSTT(entry)
			if skipFallback("stt", entry.Name, err) {
				continue
			}
			if err != nil {
				ps.Close()
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			ps.track(rec)
			chain.AddFallback(entry.Name, rec)
			logger.Info("fallback created", "kind", "stt", "name", entry.Name)
		}
		ps.STT, ps.STTChain = chain, chain
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	if name := cfg.TTS.Name; name != "" {
		s, err := reg.CreateTTS(cfg.TTS.ProviderEntry)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.track(s)
		ps.TTS, ps.TTSName = s, name
		logger.Info("provider created", "kind", "tts", "name", name, "format", s.OutputFormat())
	}
	if ps.TTS != nil && len(cfg.TTS.Fallbacks) > 0 {
		chain := resilience.NewTTSFallback(ps.TTS, ps.TTSName, fbCfg)
		for _, entry := range cfg.TTS.Fallbacks {
			s, err := reg.CreateTTS(entry)
			if skipFallback("tts", entry.Name, err) {
				continue
			}
			if err != nil {
				ps.Close()
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			if err := chain.AddFallback(entry.Name, s); err != nil {
				ps.Close()
				return nil, err
			}
			ps.track(s)
			logger.Info("fallback created", "kind", "tts", "name", entry.Name)
		}
		ps.TTS, ps.TTSChain = chain, chain
	}

	// ── VAD ───────────────────────────────────────────────────────────────────
	if name := cfg.VAD.Name; name != "" {
		e, err := reg.CreateVAD(cfg.VAD)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = e
		logger.Info("provider created", "kind", "vad", "name", name)
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	if backend := cfg.Audio.Backend; backend != "" && backend != config.AudioNone {
		src, err := reg.CreateSource(cfg.Audio)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("create audio provider %q: %w", backend, err)
		}
		ps.Source = src
		logger.Info("provider created", "kind", "audio", "name", backend)
	}
	if cfg.Audio.Playback && ps.TTS != nil {
		sink, err := reg.CreateSink(cfg.Audio, ps.TTS.OutputFormat())
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("create sink provider %q: %w", cfg.Audio.Backend, err)
		}
		ps.Sink = sink
	}

	return ps, nil
}
