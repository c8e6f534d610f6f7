package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods of [Registry]
// for a name nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SinkFactory builds a playback sink. format is the output format of the
// configured synthesizer so the sink knows how to decode clips.
type SinkFactory func(cfg AudioConfig, format string) (audio.Sink, error)

// factories is one name-to-constructor table of a [Registry].
type factories[K ~string, C, P any] struct {
	kind string
	mu   sync.RWMutex
	m    map[K]func(C) (P, error)
}

func newFactories[K ~string, C, P any](kind string) *factories[K, C, P] {
	return &factories[K, C, P]{kind: kind, m: make(map[K]func(C) (P, error))}
}

func (f *factories[K, C, P]) register(name K, fn func(C) (P, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

func (f *factories[K, C, P]) create(name K, cfg C) (P, error) {
	f.mu.RLock()
	fn, ok := f.m[name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn(cfg)
}

func (f *factories[K, C, P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, string(name))
	}
	slices.Sort(out)
	return out
}

type sinkRequest struct {
	cfg    AudioConfig
	format string
}

// Registry maps provider names (and audio backends) to constructors. cmd
// registers every compiled-in implementation; the app then builds whatever
// the configuration names. Registering a name again replaces the earlier
// constructor. It is safe for concurrent use.
type Registry struct {
	stt    *factories[string, ProviderEntry, stt.Recognizer]
	tts    *factories[string, ProviderEntry, tts.Synthesizer]
	vad    *factories[string, VADConfig, vad.Engine]
	source *factories[AudioBackend, AudioConfig, audio.Source]
	sink   *factories[AudioBackend, sinkRequest, audio.Sink]
}

func NewRegistry() *Registry {
	return &Registry{
		stt:    newFactories[string, ProviderEntry, stt.Recognizer]("stt"),
		tts:    newFactories[string, ProviderEntry, tts.Synthesizer]("tts"),
		vad:    newFactories[string, VADConfig, vad.Engine]("vad"),
		source: newFactories[AudioBackend, AudioConfig, audio.Source]("audio"),
		sink:   newFactories[AudioBackend, sinkRequest, audio.Sink]("sink"),
	}
}

func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.stt.register(name, factory)
}

func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.tts.register(name, factory)
}

func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.vad.register(name, factory)
}

func (r *Registry) RegisterSource(backend AudioBackend, factory func(AudioConfig) (audio.Source, error)) {
	r.source.register(backend, factory)
}

func (r *Registry) RegisterSink(backend AudioBackend, factory SinkFactory) {
	r.sink.register(backend, func(req sinkRequest) (audio.Sink, error) { return factory(req.cfg, req.format) })
}

// CreateSTT builds the recognizer registered as entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return r.stt.create(entry.Name, entry)
}

// CreateTTS builds the synthesizer registered as entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	return r.tts.create(entry.Name, entry)
}

// CreateVAD builds the engine registered as cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	return r.vad.create(cfg.Name, cfg)
}

// CreateSource builds the capture source of cfg.Backend.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	return r.source.create(cfg.Backend, cfg)
}

// CreateSink builds the playback sink of cfg.Backend for clips in format.
func (r *Registry) CreateSink(cfg AudioConfig, format string) (audio.Sink, error) {
	return r.sink.create(cfg.Backend, sinkRequest{cfg: cfg, format: format})
}

// STTNames lists the registered recognizers, sorted.
func (r *Registry) STTNames() []string { return r.stt.names() }

// TTSNames lists the registered synthesizers, sorted.
func (r *Registry) TTSNames() []string { return r.tts.names() }

// VADNames lists the registered VAD engines, sorted.
func (r *Registry) VADNames() []string { return r.vad.names() }
