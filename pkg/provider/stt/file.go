package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/MrWong99/voxcore/pkg/audio"
)

// RecognizeFile transcribes a 16-bit PCM WAV file. The audio is downmixed to
// mono and resampled to req.SampleRate before it is handed to r.
func RecognizeFile(ctx context.Context, r Recognizer, path string, req Request) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stt: open %q: %w", path, err)
	}
	defer f.Close()

	pcm, info, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("stt: decode %q: %w", path, err)
	}
	return RecognizeWAV(ctx, r, pcm, info, req)
}

// RecognizeWAV transcribes already decoded WAV PCM.
func RecognizeWAV(ctx context.Context, r Recognizer, pcm []byte, info audio.WAVInfo, req Request) ([]Segment, error) {
	if req.SampleRate <= 0 {
		req.SampleRate = info.SampleRate
	}
	mono, err := audio.ToMono16(pcm, info, req.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("stt: convert audio: %w", err)
	}
	return r.Recognize(ctx, audio.PCM16ToFloat32(mono), req)
}
