package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// EncodeWAV wraps mono 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	byteRate := uint32(sampleRate * 2)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WAVInfo describes the PCM payload of a decoded WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// DecodeWAV reads a 16-bit PCM WAV stream and returns its sample data and
// format. Unknown chunks (LIST, fact, ...) are skipped.
func DecodeWAV(r io.Reader) ([]byte, WAVInfo, error) {
	var info WAVInfo

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, info, fmt.Errorf("audio: wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, info, errors.New("audio: not a RIFF/WAVE stream")
	}

	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, info, fmt.Errorf("audio: wav chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, info, fmt.Errorf("audio: wav fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, info, errors.New("audio: wav fmt chunk too short")
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, info, fmt.Errorf("audio: unsupported wav encoding %d (want PCM)", format)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, info, fmt.Errorf("audio: unsupported wav bit depth %d (want 16)", bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, info, errors.New("audio: wav data chunk before fmt chunk")
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, info, fmt.Errorf("audio: wav data chunk: %w", err)
			}
			// Streaming encoders sometimes write a bogus data size; keep what we got.
			return data[:n-n%2], info, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, info, fmt.Errorf("audio: skip wav chunk %q: %w", id, err)
			}
		}
	}
}

// ToMono16 converts decoded WAV PCM to mono at dstRate.
func ToMono16(pcm []byte, info WAVInfo, dstRate int) ([]byte, error) {
	if info.Channels < 1 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", info.Channels)
	}
	return ResampleMono16(Downmix(pcm, info.Channels), info.SampleRate, dstRate), nil
}

// WAVSource replays a WAV file as a capture device. Once the file is
// exhausted the stream keeps producing silent frames so that a trailing
// utterance is closed by the usual silence rule.
type WAVSource struct {
	path     string
	realtime bool
}

// NewWAVSource returns a [Source] that replays the WAV file at path. When
// realtime is true frames are paced at their natural rate; otherwise they are
// delivered as fast as they are read.
func NewWAVSource(path string, realtime bool) *WAVSource {
	return &WAVSource{path: path, realtime: realtime}
}

var _ Source = (*WAVSource)(nil)

// Open implements [Source].
func (s *WAVSource) Open(_ context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("audio: invalid stream config %+v", cfg)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("audio: open wav source: %w", err)
	}
	defer f.Close()

	pcm, info, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	mono, err := ToMono16(pcm, info, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &wavStream{
		cfg:      cfg,
		pcm:      mono,
		realtime: s.realtime,
		start:    time.Now(),
	}, nil
}

type wavStream struct {
	cfg      StreamConfig
	realtime bool
	start    time.Time

	mu     sync.Mutex
	pcm    []byte
	offset int
	seq    uint64
	closed bool
}

func (w *wavStream) NextFrame(timeout time.Duration) (Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Frame{}, ErrClosed
	}

	frameDur := w.cfg.FrameDuration()
	ts := time.Duration(w.seq) * frameDur
	if w.realtime {
		// The frame is complete once its last sample has been "recorded".
		due := w.start.Add(ts + frameDur)
		wait := time.Until(due)
		if wait > timeout {
			time.Sleep(timeout)
			return Frame{}, ErrTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	size := w.cfg.FrameSamples * 2
	data := make([]byte, size)
	if w.offset < len(w.pcm) {
		w.offset += copy(data, w.pcm[w.offset:])
	}
	f := Frame{Data: data, SampleRate: w.cfg.SampleRate, Seq: w.seq, Timestamp: ts}
	w.seq++
	return f, nil
}

func (w *wavStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pcm = nil
	return nil
}
