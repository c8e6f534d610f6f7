package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/pkg/audio"
	"github.com/MrWong99/voxcore/pkg/provider/vad"
)

// CaptureConfig describes the frame shape of a capture session.
type CaptureConfig struct {
	// Stream is the frame shape requested from the audio source. One frame
	// is one chunk.
	Stream audio.StreamConfig

	// VAD configures the classifier. Only the first VAD.FrameSizeMs of each
	// chunk is classified, so the window must fit into one chunk.
	VAD vad.Config

	// SilenceFrames is the number of consecutive non-speech chunks that
	// close an utterance.
	SilenceFrames int
}

// Validate checks that the classifier window is supported and fits into one
// chunk. Errors wrap [ErrConfiguration].
func (c CaptureConfig) Validate() error {
	if c.Stream.SampleRate <= 0 || c.Stream.FrameSamples <= 0 {
		return fmt.Errorf("%w: invalid stream shape %d Hz x %d samples", ErrConfiguration, c.Stream.SampleRate, c.Stream.FrameSamples)
	}
	if c.VAD.SampleRate != c.Stream.SampleRate {
		return fmt.Errorf("%w: vad sample rate %d differs from capture rate %d", ErrConfiguration, c.VAD.SampleRate, c.Stream.SampleRate)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.VAD.FrameSamples() > c.Stream.FrameSamples {
		return fmt.Errorf("%w: vad window of %d ms does not fit into a %v chunk", ErrConfiguration, c.VAD.FrameSizeMs, c.Stream.FrameDuration())
	}
	return nil
}

// CaptureLoop owns the background goroutine that reads frames, classifies
// them, segments utterances and transcribes each completed one. Results are
// published to an [EventChannel]; nothing else is shared with the consumer.
type CaptureLoop struct {
	source  audio.Source
	vad     vad.Engine
	bridge  *TranscriptionBridge
	events  *EventChannel
	cfg     CaptureConfig
	metrics *observe.Metrics
	logger  *slog.Logger

	onSpeechStart func()

	// lifeMu serialises Start and Stop.
	lifeMu    sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	listening atomic.Bool
}

// NewCaptureLoop validates cfg and returns an idle loop. Nothing is opened
// until Start.
func NewCaptureLoop(source audio.Source, engine vad.Engine, bridge *TranscriptionBridge, events *EventChannel, cfg CaptureConfig, metrics *observe.Metrics, logger *slog.Logger) (*CaptureLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		engine = vad.FailOpen()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureLoop{
		source:  source,
		vad:     engine,
		bridge:  bridge,
		events:  events,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// OnSpeechStart registers fn to run on the capture goroutine whenever an
// utterance opens. It must be set before Start and must not block.
func (l *CaptureLoop) OnSpeechStart(fn func()) { l.onSpeechStart = fn }

// Listening reports whether a capture session is running.
func (l *CaptureLoop) Listening() bool { return l.listening.Load() }

// Start opens the device and the classifier session and launches the capture
// goroutine. Calling Start while a session is running is a no-op. Errors
// wrap [ErrConfiguration] and leave nothing running.
//
// ctx supplies values (trace context) for the session; its cancellation does
// not end the session, only Stop does.
func (l *CaptureLoop) Start(ctx context.Context) error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
			// The previous session ended on its own.
			l.done, l.stop = nil, nil
		default:
			l.logger.Info("capture already running, ignoring start")
			return nil
		}
	}

	if l.source == nil {
		return fmt.Errorf("%w: no audio source configured", ErrConfiguration)
	}
	session, err := l.vad.NewSession(l.cfg.VAD)
	if err != nil {
		return fmt.Errorf("%w: vad session: %w", ErrConfiguration, err)
	}
	stream, err := l.source.Open(ctx, l.cfg.Stream)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("%w: open audio source: %w", ErrConfiguration, err)
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.listening.Store(true)
	l.metrics.ActiveSessions.Add(ctx, 1)
	l.events.Publish(Event{Kind: EventListeningStarted})
	l.logger.Info("capture started",
		"sample_rate", l.cfg.Stream.SampleRate,
		"chunk", l.cfg.Stream.FrameDuration(),
		"vad_window_ms", l.cfg.VAD.FrameSizeMs,
		"silence_frames", l.cfg.SilenceFrames,
	)

	go l.run(context.WithoutCancel(ctx), stream, session, l.stop, l.done)
	return nil
}

// Stop asks the capture goroutine to finish and waits until it has released
// the device. The goroutine checks for the request between frame reads, so
// the wait is bounded by one chunk plus any transcription in flight.
// Calling Stop while idle is a no-op.
func (l *CaptureLoop) Stop() {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()

	if l.done == nil {
		return
	}
	select {
	case <-l.done:
	default:
		close(l.stop)
		<-l.done
	}
	l.done, l.stop = nil, nil
}

func (l *CaptureLoop) run(ctx context.Context, stream audio.Stream, session vad.SessionHandle, stop <-chan struct{}, done chan<- struct{}) {
	acc := NewSegmentAccumulator(l.cfg.SilenceFrames)
	var runErr error

	defer func() {
		if err := session.Close(); err != nil {
			l.logger.Warn("failed to close vad session", "err", err)
		}
		if err := stream.Close(); err != nil {
			l.logger.Warn("failed to close audio stream", "err", err)
		}
		if u, ok := acc.Flush(); ok {
			l.logger.Debug("discarding unfinished utterance", "utterance_id", u.ID, "frames", len(u.Frames))
		}
		l.listening.Store(false)
		l.metrics.ActiveSessions.Add(ctx, -1)
		l.events.Publish(Event{Kind: EventListeningStopped, Err: runErr})
		l.logger.Info("capture stopped", "err", runErr)
		close(done)
	}()

	timeout := l.cfg.Stream.FrameDuration()
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := stream.NextFrame(timeout)
		if errors.Is(err, audio.ErrTimeout) {
			continue
		}
		if err != nil {
			runErr = fmt.Errorf("%w: %w", ErrDevice, err)
			l.metrics.DeviceErrors.Add(ctx, 1)
			l.logger.Error("audio device failed, ending capture", "err", err)
			return
		}

		class := l.classify(session, frame)
		l.metrics.RecordFrame(ctx, class == vad.Speech)

		opening := acc.State() == StateIdle && class == vad.Speech
		u, ok, err := acc.Push(frame, class)
		if opening && l.onSpeechStart != nil {
			l.onSpeechStart()
		}
		if err != nil {
			l.logger.Error("segment accumulator", "err", err)
			continue
		}
		if !ok {
			continue
		}

		res := l.bridge.Transcribe(ctx, u)
		if res.IsEmpty {
			continue
		}
		l.events.Publish(Event{Kind: EventSpeechDetected, Text: res.Text, UtteranceID: res.UtteranceID})
	}
}

// classify runs the classifier on the leading window of frame. A frame
// shorter than one window is non-speech; a classifier error counts as speech.
func (l *CaptureLoop) classify(session vad.SessionHandle, frame audio.Frame) vad.Classification {
	n := l.cfg.VAD.FrameBytes()
	if len(frame.Data) < n {
		l.logger.Debug("short frame, treating as non-speech", "seq", frame.Seq, "bytes", len(frame.Data))
		return vad.NonSpeech
	}
	c, err := session.Classify(frame.Data[:n])
	if err != nil {
		l.logger.Warn("vad classify failed, treating as speech", "seq", frame.Seq, "err", err)
		return vad.Speech
	}
	return c
}
