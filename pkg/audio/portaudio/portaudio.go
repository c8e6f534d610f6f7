// Package portaudio provides microphone capture and speaker playback backed by
// the PortAudio C library (github.com/gordonklaus/portaudio).
//
// Capture uses a blocking input stream polled with AvailableToRead so that
// [audio.Stream.NextFrame] honours its timeout instead of blocking forever on
// a stalled device. Playback decodes a complete clip with [audio.DecodeClip]
// and writes it to a blocking output stream opened at the clip's native
// format.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxcore/pkg/audio"
)

// pollInterval is how often NextFrame re-checks the device buffer while
// waiting for a full frame.
const pollInterval = 5 * time.Millisecond

// playbackChunk is the number of sample frames written per output call.
const playbackChunk = 1024

// Option configures a [Source] or [Sink].
type Option func(*options)

type options struct {
	device string
	logger *slog.Logger
}

// WithDevice selects a device by index (e.g. "3") or by a case-insensitive
// substring of its name. Empty selects the host default.
func WithDevice(device string) Option {
	return func(o *options) { o.device = device }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source implements [audio.Source] for a PortAudio input device.
type Source struct {
	opts options
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a capture source. The device is not touched until Open.
func NewSource(opts ...Option) *Source {
	return &Source{opts: buildOptions(opts)}
}

// Open initialises PortAudio, resolves the device and starts a mono int16
// input stream of cfg.FrameSamples per buffer.
func (s *Source) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("portaudio: invalid stream config %+v", cfg)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := resolveDevice(s.opts.device, true)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSamples

	buf := make([]int16, cfg.FrameSamples)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start input %q: %w", dev.Name, err)
	}

	s.opts.logger.Info("portaudio input opened",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"frame_samples", cfg.FrameSamples,
	)
	return &inputStream{
		cfg:    cfg,
		stream: stream,
		buf:    buf,
		logger: s.opts.logger,
	}, nil
}

type inputStream struct {
	cfg    audio.StreamConfig
	logger *slog.Logger

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	seq    uint64
	closed bool
}

func (s *inputStream) NextFrame(timeout time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, audio.ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		avail, err := s.stream.AvailableToRead()
		if err != nil {
			return audio.Frame{}, fmt.Errorf("portaudio: poll input: %w", err)
		}
		if avail >= s.cfg.FrameSamples {
			break
		}
		if time.Now().After(deadline) {
			return audio.Frame{}, audio.ErrTimeout
		}
		time.Sleep(pollInterval)
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read input: %w", err)
		}
		// The buffer is still filled; the device just dropped older samples.
		s.logger.Warn("portaudio input overflowed", "seq", s.seq)
	}

	f := audio.Frame{
		Data:       audio.Int16ToPCM16(s.buf),
		SampleRate: s.cfg.SampleRate,
		Seq:        s.seq,
		Timestamp:  time.Duration(s.seq) * s.cfg.FrameDuration(),
	}
	s.seq++
	return f, nil
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop input: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close input: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	s.logger.Info("portaudio input closed")
	return errors.Join(errs...)
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink implements [audio.Sink] for a PortAudio output device.
type Sink struct {
	opts   options
	format string

	mu sync.Mutex // one clip at a time
}

var _ audio.Sink = (*Sink)(nil)

// NewSink returns a playback sink. format is the synthesis output format
// (see [audio.DecodeClip]).
func NewSink(format string, opts ...Option) (*Sink, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Sink{opts: buildOptions(opts), format: format}, nil
}

// Play decodes data and blocks until it has been played or ctx is done.
func (s *Sink) Play(ctx context.Context, data []byte) error {
	clip, err := audio.DecodeClip(data, s.format)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := resolveDevice(s.opts.device, false)
	if err != nil {
		return err
	}
	params := pa.LowLatencyParameters(nil, dev)
	params.Output.Channels = clip.Channels
	params.SampleRate = float64(clip.SampleRate)
	params.FramesPerBuffer = playbackChunk

	buf := make([]int16, playbackChunk*clip.Channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output %q: %w", dev.Name, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output: %w", err)
	}
	defer stream.Stop()

	samples := len(clip.PCM) / 2
	for off := 0; off < samples; off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := 0
		for ; n < len(buf) && off+n < samples; n++ {
			i := (off + n) * 2
			buf[n] = int16(uint16(clip.PCM[i]) | uint16(clip.PCM[i+1])<<8)
		}
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write output: %w", err)
		}
	}
	return nil
}

// Close releases the PortAudio reference taken by NewSink.
func (s *Sink) Close() error {
	return pa.Terminate()
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// resolveDevice picks the device named by selector, an index or a name
// substring. An empty selector means the default input or output device.
func resolveDevice(selector string, input bool) (*pa.DeviceInfo, error) {
	if selector == "" {
		var (
			dev *pa.DeviceInfo
			err error
		)
		if input {
			dev, err = pa.DefaultInputDevice()
		} else {
			dev, err = pa.DefaultOutputDevice()
		}
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default device: %w", err)
		}
		return dev, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	usable := func(d *pa.DeviceInfo) bool {
		if input {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(devices) || !usable(devices[idx]) {
			return nil, fmt.Errorf("portaudio: device index %d is not a usable device", idx)
		}
		return devices[idx], nil
	}
	want := strings.ToLower(selector)
	for _, d := range devices {
		if usable(d) && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", selector)
}

// DeviceNames lists the names of all devices usable for capture.
func DeviceNames() ([]string, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}
