// Command voxcore is the entry point for the voxcore voice I/O server.
//
// Without flags it serves the HTTP control API described in package app.
// The one-shot flags -transcribe and -say run a single operation against the
// configured providers and exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxcore/internal/app"
	"github.com/MrWong99/voxcore/internal/config"
	"github.com/MrWong99/voxcore/internal/observe"
	archivepg "github.com/MrWong99/voxcore/pkg/archive/postgres"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/audio/portaudio"
	"github.com/MrWong99/voxcore/pkg/provider/stt"
	"github.com/MrWong99/voxcore/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voxcore/pkg/provider/stt/openai"
	"github.com/MrWong99/voxcore/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
	"github.com/MrWong99/voxcore/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxcore/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voxcore/pkg/provider/tts/openai"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
	"github.com/MrWong99/voxcore/pkg/provider/vad/webrtc"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxcore.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the capture devices and exit")
	transcribe := flag.String("transcribe", "", "transcribe a WAV file, print the text and exit")
	say := flag.String("say", "", "speak the given text through the playback sink and exit")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcore: config file %q not found; pass -config or create it\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "voxcore",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
		Attributes: []attribute.KeyValue{
			attribute.String("voxcore.audio.backend", string(cfg.Audio.Backend)),
			attribute.String("voxcore.stt.provider", cfg.STT.Name),
			attribute.String("voxcore.tts.provider", cfg.TTS.Name),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)
	slog.Debug("providers registered", "stt", reg.STTNames(), "tts", reg.TTSNames(), "vad", reg.VADNames())

	providers, err := app.BuildProviders(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Transcript archive ────────────────────────────────────────────────────
	appOpts := []app.Option{app.WithLogger(logger), app.WithLevelVar(level), app.WithVersion(version)}
	if cfg.Archive.Enabled() {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := archivepg.NewStore(connectCtx, cfg.Archive.DSN)
		cancel()
		if err != nil {
			slog.Error("failed to open transcript archive", "err", err)
			_ = providers.Close()
			return 1
		}
		appOpts = append(appOpts, app.WithArchive(store))
	}

	application, err := app.New(cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Close()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── One-shot modes ────────────────────────────────────────────────────────
	if *transcribe != "" || *say != "" {
		code := oneShot(ctx, application, *transcribe, *say)
		if err := application.Shutdown(context.Background()); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
		return code
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	}, config.WithInterval(2*time.Second), config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
		go reloadOnHangup(ctx, watcher)
	}

	printStartupSummary(cfg, providers)
	slog.Info("voxcore starting", "version", version, "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file on every SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}

// oneShot runs -transcribe and/or -say and reports the result on stdout.
func oneShot(ctx context.Context, a *app.App, wavPath, text string) int {
	eng := a.Engine()
	if wavPath != "" {
		out, err := eng.TranscribeFile(ctx, wavPath)
		if err != nil {
			slog.Error("transcription failed", "file", wavPath, "err", err)
			return 1
		}
		if out == "" {
			fmt.Println("(no speech)")
		} else {
			fmt.Println(out)
		}
	}
	if text != "" {
		if err := eng.Speak(ctx, text, ""); err != nil {
			slog.Error("speak failed", "err", err)
			return 1
		}
	}
	return 0
}

func printDevices() int {
	names, err := portaudio.DeviceNames()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxcore: %v\n", err)
		return 1
	}
	for i, n := range names {
		fmt.Printf("%3d  %s\n", i, n)
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every provider that ships with voxcore into
// reg.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		opts := []whisper.Option{whisper.WithLanguage(entry.StringOption("language", config.DefaultLanguage))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		return whisper.NewNative(nativeModelPath(entry),
			whisper.WithNativeLanguage(entry.StringOption("language", config.DefaultLanguage)),
			whisper.WithNativeThreads(entry.IntOption("threads", 0)),
			whisper.WithNativeLogger(logger),
		)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(entry.StringOption("language", config.DefaultLanguage))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		opts := []oastt.Option{oastt.WithLanguage(entry.StringOption("language", config.DefaultLanguage))}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.StringOption("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if f := entry.StringOption("output_format", ""); f != "" {
			opts = append(opts, oatts.WithFormat(f))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		opts := []coqui.Option{coqui.WithLanguage(entry.StringOption("language", config.DefaultLanguage))}
		if mode := entry.StringOption("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterSource(config.AudioPortAudio, func(cfg config.AudioConfig) (audio.Source, error) {
		return portaudio.NewSource(portaudio.WithDevice(cfg.Device), portaudio.WithLogger(logger)), nil
	})
	reg.RegisterSource(config.AudioWAV, func(cfg config.AudioConfig) (audio.Source, error) {
		return audio.NewWAVSource(cfg.WAVPath, cfg.Realtime), nil
	})

	portaudioSink := func(cfg config.AudioConfig, format string) (audio.Sink, error) {
		return portaudio.NewSink(format, portaudio.WithDevice(cfg.Device), portaudio.WithLogger(logger))
	}
	// A replayed WAV file still plays synthesized speech on the speakers.
	reg.RegisterSink(config.AudioPortAudio, portaudioSink)
	reg.RegisterSink(config.AudioWAV, portaudioSink)
}

// nativeModelPath resolves the ggml model file for whisper-native. An
// explicit model_path option wins; otherwise the model size is looked up as
// ggml-<size>.bin inside model_dir.
func nativeModelPath(entry config.ProviderEntry) string {
	if p := entry.StringOption("model_path", ""); p != "" {
		return p
	}
	dir := entry.StringOption("model_dir", "models")
	return filepath.Join(dir, "ggml-"+entry.Model+".bin")
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxcore startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(ps.STTName, cfg.STT.Model, ps.STT != nil))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.STT.Fallbacks)))
	printRow("TTS", providerLabel(ps.TTSName, cfg.TTS.Model, ps.TTS != nil))
	printRow("TTS fallbacks", fmt.Sprint(len(cfg.TTS.Fallbacks)))
	printRow("Voice", cfg.TTS.Voice.VoiceID)
	printRow("VAD", providerLabel(cfg.VAD.Name, "", ps.VAD != nil))
	printRow("Audio", providerLabel(string(cfg.Audio.Backend), "", ps.Source != nil))
	printRow("Playback", fmt.Sprint(ps.Sink != nil))
	printRow("Vocabulary", fmt.Sprintf("%d terms", len(cfg.STT.Vocabulary)))
	printRow("Archive", fmt.Sprint(cfg.Archive.Enabled()))
	printRow("MCP endpoint", fmt.Sprint(cfg.Server.MCP))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string, ok bool) string {
	switch {
	case !ok:
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
