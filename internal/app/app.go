// Package app wires the voxcore subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the voice engine from
// the configured providers, Run serves the HTTP control API and drains voice
// events on a fixed interval, and Shutdown tears everything down in order.
//
// For testing, build [Providers] from mocks and drive the API through
// [App.Handler] with net/http/httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcore/internal/config"
	"github.com/MrWong99/voxcore/internal/health"
	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/internal/resilience"
	"github.com/MrWong99/voxcore/internal/voice"
	"github.com/MrWong99/voxcore/pkg/archive"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP shutdown once Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the voice engine over HTTP.
type App struct {
	providers *Providers
	engine    *voice.Engine
	events    *EventLog
	archive   archive.Store
	metrics   *observe.Metrics
	logger    *slog.Logger
	level     *slog.LevelVar
	handler   http.Handler
	version   string

	mu      sync.Mutex
	cfg     *config.Config
	baseCtx context.Context

	// drainMu serializes drain so the backlog keeps publish order when the
	// poller and request handlers drain at the same time.
	drainMu sync.Mutex

	// archiveMu guards the write queue. A single writer goroutine empties
	// it in order; archiveWG tracks that writer for Shutdown.
	archiveMu      sync.Mutex
	archiveQueue   []archive.Entry
	archiveWriting bool
	archiveWG      sync.WaitGroup

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger for the app and the engine.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets config reloads adjust the log level of the handler
// behind the logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the build version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithArchive persists every recognized utterance to store and serves it on
// GET /transcripts. The app closes store on Shutdown.
func WithArchive(store archive.Store) Option {
	return func(a *App) { a.archive = store }
}

// New creates an App from cfg and the already constructed providers. It
// opens nothing: the capture device is acquired on POST /listen/start and
// the listener in Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(SlogLevel(cfg.Server.LogLevel))

	eng, err := voice.New(EngineConfig(cfg), voice.Deps{
		Source:          providers.Source,
		VAD:             providers.VAD,
		Sink:            providers.Sink,
		Recognizer:      providers.STT,
		RecognizerName:  providers.STTName,
		Synthesizer:     providers.TTS,
		SynthesizerName: providers.TTSName,
	}, voice.WithLogger(a.logger), voice.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}
	a.engine = eng
	a.events = NewEventLog(cfg.Server.EventBacklog)
	a.handler = a.routes()
	return a, nil
}

// EngineConfig maps the file configuration onto the engine's tuning values.
func EngineConfig(cfg *config.Config) voice.Config {
	breakerName := cfg.STT.Name
	if breakerName == "" {
		breakerName = "stt"
	}
	return voice.Config{
		SampleRate:        cfg.Audio.SampleRate,
		ChunkDuration:     cfg.Audio.ChunkDuration,
		SilenceThreshold:  cfg.VAD.SilenceThreshold,
		VADFrameMs:        cfg.VAD.FrameMs,
		VADAggressiveness: cfg.VAD.AggressivenessOrDefault(),
		Language:          cfg.STT.StringOption("language", config.DefaultLanguage),
		ModelSize:         cfg.STT.Model,
		Vocabulary:        cfg.STT.Vocabulary,
		Voice:             VoiceFromConfig(cfg.TTS.Voice),
		CacheEntries:      cfg.Cache.MaxEntries,
		EvictBatch:        cfg.Cache.EvictBatch,
		SingleFlight:      cfg.Cache.SingleFlight,
		PlaybackGap:       cfg.Audio.PlaybackGap,
		BargeIn:           cfg.Audio.BargeIn,
		Breaker: resilience.CircuitBreakerConfig{
			Name:         breakerName,
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
		},
	}
}

// VoiceFromConfig converts a configured voice into synthesis parameters.
func VoiceFromConfig(v config.VoiceConfig) tts.Voice {
	return tts.Voice{ID: v.VoiceID, Stability: v.Stability, Clarity: v.Clarity, Style: v.Style}
}

// SlogLevel maps a configured log level to its slog equivalent. Unknown
// levels map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Engine returns the voice engine.
func (a *App) Engine() *voice.Engine { return a.engine }

// Events returns the drained event backlog.
func (a *App) Events() *EventLog { return a.events }

// Handler returns the HTTP handler serving the control API.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run serves the control API on cfg.Server.ListenAddr and drains voice
// events every cfg.Server.PollInterval. It blocks until ctx is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.mu.Lock()
	a.baseCtx = ctx
	poll := a.cfg.Server.PollInterval
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.logger.Info("control server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.pollEvents(gctx, poll)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// pollEvents drains the engine's event channel into the backlog until ctx
// is done.
func (a *App) pollEvents(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case <-ticker.C:
			a.drain()
		}
	}
}

// drain moves pending engine events into the backlog and logs them. The
// whole sequence runs under drainMu; archive writes are queued and happen
// on the writer goroutine.
func (a *App) drain() {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	events := a.engine.Events().Drain()
	for _, e := range events {
		switch e.Kind {
		case voice.EventSpeechDetected:
			a.logger.Info("speech detected", "utterance_id", e.UtteranceID, "text", e.Text)
		case voice.EventListeningStopped:
			if e.Err != nil {
				a.logger.Warn("listening stopped", "err", e.Err)
			} else {
				a.logger.Info("listening stopped")
			}
		default:
			a.logger.Debug("voice event", "kind", e.Kind.String())
		}
	}
	a.events.Append(events...)
	a.queueArchive(events)
}

// queueArchive appends recognized utterances to the archive queue and starts
// the writer if it is idle.
func (a *App) queueArchive(events []voice.Event) {
	if a.archive == nil {
		return
	}
	a.archiveMu.Lock()
	defer a.archiveMu.Unlock()
	for _, e := range events {
		if e.Kind == voice.EventSpeechDetected {
			a.archiveQueue = append(a.archiveQueue, archive.Entry{UtteranceID: e.UtteranceID, Text: e.Text, At: e.At})
		}
	}
	if len(a.archiveQueue) == 0 || a.archiveWriting {
		return
	}
	a.archiveWriting = true
	a.archiveWG.Go(a.writeArchive)
}

// writeArchive empties the archive queue in order and exits once it is
// empty. Failures are logged and the entry is lost; the in-memory backlog
// still has it.
func (a *App) writeArchive() {
	timeout := a.Config().Archive.WriteTimeout
	if timeout <= 0 {
		timeout = config.DefaultArchiveTimeout
	}
	for {
		a.archiveMu.Lock()
		batch := a.archiveQueue
		a.archiveQueue = nil
		if len(batch) == 0 {
			a.archiveWriting = false
			a.archiveMu.Unlock()
			return
		}
		a.archiveMu.Unlock()

		for _, entry := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := a.archive.Write(ctx, entry)
			cancel()
			if err != nil {
				a.metrics.RecordProviderError(context.Background(), "postgres", "archive")
				a.logger.Warn("archive write failed", "utterance_id", entry.UtteranceID, "err", err)
			}
		}
	}
}

// startContext is the parent context for capture sessions started over
// HTTP. Sessions must outlive the request that started them.
func (a *App) startContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

// readyCheckers returns the readiness probes for the configured providers.
func (a *App) readyCheckers() []health.Checker {
	var checks []health.Checker
	if a.providers.STT != nil {
		checks = append(checks, health.Checker{
			Name: "stt",
			Check: func(context.Context) error {
				if !a.engine.Status().STTAvailable {
					return fmt.Errorf("recognizer %q circuit open", a.providers.STTName)
				}
				return nil
			},
		})
	}
	if a.providers.TTSChain != nil {
		checks = append(checks, health.Checker{
			Name: "tts",
			Check: func(context.Context) error {
				for name, st := range a.providers.TTSChain.States() {
					if st != resilience.StateOpen {
						return nil
					}
					a.logger.Debug("synthesizer circuit open", "name", name)
				}
				return errors.New("every synthesizer circuit is open")
			},
		})
	}
	if a.archive != nil {
		checks = append(checks, health.Checker{Name: "archive", Check: a.archive.Ping, Optional: true})
	}
	return checks
}

// Shutdown stops listening, drains outstanding events and releases every
// provider. It is safe to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		var errs []error
		if e := a.engine.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", e))
		}
		a.drain()
		a.archiveWG.Wait()
		if e := a.providers.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close providers: %w", e))
		}
		if a.archive != nil {
			if e := a.archive.Close(); e != nil {
				errs = append(errs, fmt.Errorf("close archive: %w", e))
			}
		}
		err = errors.Join(errs...)
		a.logger.Info("shutdown complete")
	})
	return err
}
