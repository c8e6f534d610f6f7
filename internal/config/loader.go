package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
	"tts": {"elevenlabs", "openai", "coqui"},
	"vad": {"webrtc"},
}

// providersNeedingKey lists hosted providers that cannot work without an API key.
var providersNeedingKey = map[string][]string{
	"stt": {"deepgram", "openai"},
	"tts": {"elevenlabs", "openai"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultSampleRate       = 16000
	DefaultChunkDuration    = 500 * time.Millisecond
	DefaultSilenceThreshold = 2 * time.Second
	DefaultVADFrameMs       = 30
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultEventBacklog     = 256
	DefaultVoiceID          = "21m00Tcm4TlvDq8ikWAM"
	DefaultSTTModel         = "base"
	DefaultLanguage         = "en"
	DefaultCacheEntries     = 50
	DefaultEvictBatch       = 10
	DefaultArchiveTimeout   = 2 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = DefaultPollInterval
	}
	if cfg.Server.EventBacklog == 0 {
		cfg.Server.EventBacklog = DefaultEventBacklog
	}
	if cfg.Server.TraceSampleRatio == 0 {
		cfg.Server.TraceSampleRatio = 1
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioPortAudio
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.ChunkDuration == 0 {
		cfg.Audio.ChunkDuration = DefaultChunkDuration
	}

	if cfg.VAD.FrameMs == 0 {
		cfg.VAD.FrameMs = DefaultVADFrameMs
	}
	if cfg.VAD.SilenceThreshold == 0 {
		cfg.VAD.SilenceThreshold = DefaultSilenceThreshold
	}

	if cfg.STT.Name == "whisper-native" && cfg.STT.Model == "" {
		cfg.STT.Model = DefaultSTTModel
	}
	if cfg.STT.Options == nil {
		cfg.STT.Options = map[string]any{}
	}
	if _, ok := cfg.STT.Options["language"]; !ok {
		cfg.STT.Options["language"] = DefaultLanguage
	}

	v := &cfg.TTS.Voice
	if v.VoiceID == "" {
		v.VoiceID = DefaultVoiceID
	}
	if v.Stability == 0 && v.Clarity == 0 && v.Style == 0 {
		v.Stability, v.Clarity = 0.75, 0.75
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheEntries
	}
	if cfg.Cache.EvictBatch == 0 {
		cfg.Cache.EvictBatch = DefaultEvictBatch
	}

	if cfg.Archive.Enabled() && cfg.Archive.WriteTimeout == 0 {
		cfg.Archive.WriteTimeout = DefaultArchiveTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("server.poll_interval %v must not be negative", cfg.Server.PollInterval))
	}
	if cfg.Server.EventBacklog < 0 {
		errs = append(errs, fmt.Errorf("server.event_backlog %d must not be negative", cfg.Server.EventBacklog))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Audio
	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, wav, none", cfg.Audio.Backend))
	}
	if cfg.Audio.Backend == AudioWAV && cfg.Audio.WAVPath == "" {
		errs = append(errs, errors.New("audio.wav_path is required when audio.backend is wav"))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration %v must be positive", cfg.Audio.ChunkDuration))
	}
	if cfg.Audio.PlaybackGap < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_gap %v must not be negative", cfg.Audio.PlaybackGap))
	}

	// VAD
	if a := cfg.VAD.AggressivenessOrDefault(); a < 0 || a > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", a))
	}
	if cfg.VAD.FrameMs != 0 && !slices.Contains([]int{10, 20, 30}, cfg.VAD.FrameMs) {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.VAD.FrameMs))
	}
	if cfg.VAD.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v must not be negative", cfg.VAD.SilenceThreshold))
	}
	validateProviderName("vad", cfg.VAD.Name)

	// Providers
	errs = append(errs, validateProviders("stt", cfg.STT.ProviderEntry, cfg.STT.Fallbacks)...)
	errs = append(errs, validateProviders("tts", cfg.TTS.ProviderEntry, cfg.TTS.Fallbacks)...)
	if cfg.STT.Name == "" {
		slog.Warn("no stt provider configured; utterances will not be transcribed")
	}
	if cfg.TTS.Name == "" {
		slog.Warn("no tts provider configured; speech synthesis is disabled")
	}

	// Voice
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"stability", cfg.TTS.Voice.Stability},
		{"clarity", cfg.TTS.Voice.Clarity},
		{"style", cfg.TTS.Voice.Style},
	} {
		if f.v < 0 || f.v > 1 {
			errs = append(errs, fmt.Errorf("tts.voice.%s %.2f is out of range [0, 1]", f.name, f.v))
		}
	}

	// Cache
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must be positive", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.EvictBatch < 0 {
		errs = append(errs, fmt.Errorf("cache.evict_batch %d must be positive", cfg.Cache.EvictBatch))
	}
	if cfg.Cache.MaxEntries > 0 && cfg.Cache.EvictBatch > cfg.Cache.MaxEntries {
		errs = append(errs, fmt.Errorf("cache.evict_batch %d exceeds cache.max_entries %d", cfg.Cache.EvictBatch, cfg.Cache.MaxEntries))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %v must not be negative", cfg.Resilience.ResetTimeout))
	}

	// Archive
	if cfg.Archive.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("archive.write_timeout %v must not be negative", cfg.Archive.WriteTimeout))
	}

	return errors.Join(errs...)
}

// validateProviders checks the primary entry and every fallback of one kind.
func validateProviders(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	validateProviderName(kind, primary.Name)
	if err := requireAPIKey(kind, primary); err != nil {
		errs = append(errs, err)
	}
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("%s.fallbacks requires a primary %s provider", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
		if err := requireAPIKey(fmt.Sprintf("%s.fallbacks[%d]", kind, i), fb); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// requireAPIKey reports a missing api_key for hosted providers. field is the
// config path of the entry; its kind is the part before the first dot.
func requireAPIKey(field string, p ProviderEntry) error {
	kind, _, _ := strings.Cut(field, ".")
	if p.APIKey != "" || !slices.Contains(providersNeedingKey[kind], p.Name) {
		return nil
	}
	return fmt.Errorf("%s.api_key is required for provider %q", field, p.Name)
}
