package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxcore/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -2, 3, -4})
	wav := audio.EncodeWAV(pcm, 16000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(wav), 44+len(pcm))
	}

	got, info, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("info = %+v, want 16000 Hz mono", info)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := samplesToBytes([]int16{7, 8})
	wav := audio.EncodeWAV(pcm, 8000)

	// Splice an odd-sized LIST chunk (padded to even) between fmt and data.
	var spliced bytes.Buffer
	spliced.Write(wav[:36])
	spliced.WriteString("LIST")
	_ = binary.Write(&spliced, binary.LittleEndian, uint32(3))
	spliced.Write([]byte{'a', 'b', 'c', 0})
	spliced.Write(wav[36:])

	got, info, err := audio.DecodeWAV(&spliced)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", info.SampleRate)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_TruncatedData(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, 16000)
	// Drop the last sample and a half; the decoder keeps whole samples only.
	got, _, err := audio.DecodeWAV(bytes.NewReader(wav[:len(wav)-3]))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d bytes, want 4", len(got))
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	valid := audio.EncodeWAV(samplesToBytes([]int16{1}), 16000)

	float := bytes.Clone(valid)
	binary.LittleEndian.PutUint16(float[20:], 3) // IEEE float
	eightBit := bytes.Clone(valid)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("RIFX0000WAVEfmt ")},
		{"float encoding", float},
		{"8-bit", eightBit},
		{"header only", valid[:12]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := audio.DecodeWAV(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestToMono16(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 300, 100, 300})
	got, err := audio.ToMono16(stereo, audio.WAVInfo{SampleRate: 16000, Channels: 2}, 16000)
	if err != nil {
		t.Fatalf("ToMono16: %v", err)
	}
	if s := bytesToSamples(got); len(s) != 2 || s[0] != 200 || s[1] != 200 {
		t.Errorf("samples = %v, want [200 200]", s)
	}

	surround := samplesToBytes([]int16{60, 60, 60, 0, 0, 0})
	if s, err := audio.ToMono16(surround, audio.WAVInfo{SampleRate: 16000, Channels: 6}, 16000); err != nil || len(bytesToSamples(s)) != 1 || bytesToSamples(s)[0] != 30 {
		t.Errorf("6 channels = %v, %v, want [30]", bytesToSamples(s), err)
	}
	if _, err := audio.ToMono16(stereo, audio.WAVInfo{SampleRate: 16000}, 16000); err == nil {
		t.Error("expected error for zero channels")
	}
}

func writeWAVFile(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(samplesToBytes(samples), rate), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVSource_FramesThenSilence(t *testing.T) {
	path := writeWAVFile(t, []int16{1, 2, 3, 4, 5, 6}, 16000)
	src := audio.NewWAVSource(path, false)

	stream, err := src.Open(t.Context(), audio.StreamConfig{SampleRate: 16000, FrameSamples: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	want := [][]int16{{1, 2, 3, 4}, {5, 6, 0, 0}, {0, 0, 0, 0}}
	for i, w := range want {
		f, err := stream.NextFrame(time.Second)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: seq = %d", i, f.Seq)
		}
		if f.Timestamp != time.Duration(i)*250*time.Microsecond {
			t.Errorf("frame %d: timestamp = %v", i, f.Timestamp)
		}
		got := bytesToSamples(f.Data)
		for j := range w {
			if got[j] != w[j] {
				t.Errorf("frame %d sample %d: got %d, want %d", i, j, got[j], w[j])
			}
		}
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := stream.NextFrame(time.Millisecond); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("NextFrame after Close: err = %v, want ErrClosed", err)
	}
}

func TestWAVSource_Resamples(t *testing.T) {
	path := writeWAVFile(t, make([]int16, 960), 48000)
	stream, err := audio.NewWAVSource(path, false).Open(t.Context(), audio.StreamConfig{SampleRate: 16000, FrameSamples: 320})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	f, err := stream.NextFrame(time.Second)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if f.SampleRate != 16000 || f.Samples() != 320 {
		t.Errorf("frame = %d samples @ %d Hz, want 320 @ 16000", f.Samples(), f.SampleRate)
	}
	if f.Duration() != 20*time.Millisecond {
		t.Errorf("duration = %v, want 20ms", f.Duration())
	}
}

func TestWAVSource_RealtimeTimeout(t *testing.T) {
	path := writeWAVFile(t, make([]int16, 16000), 16000)
	// One frame is a full second long; a 10 ms timeout must expire first.
	stream, err := audio.NewWAVSource(path, true).Open(t.Context(), audio.StreamConfig{SampleRate: 16000, FrameSamples: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	if _, err := stream.NextFrame(10 * time.Millisecond); !errors.Is(err, audio.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWAVSource_OpenErrors(t *testing.T) {
	if _, err := audio.NewWAVSource(filepath.Join(t.TempDir(), "missing.wav"), false).Open(t.Context(), audio.StreamConfig{SampleRate: 16000, FrameSamples: 320}); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeWAVFile(t, []int16{1}, 16000)
	if _, err := audio.NewWAVSource(path, false).Open(t.Context(), audio.StreamConfig{}); err == nil {
		t.Error("expected error for zero stream config")
	}
}
