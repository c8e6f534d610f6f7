package audio

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Clip is a decoded, playable block of 16-bit little-endian PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// DecodeClip turns an encoded clip into PCM. format is the synthesis output
// format the clip was requested in (e.g. "mp3_44100_128", "pcm_16000"); it is
// only consulted when the bytes carry no recognisable container. WAV data is
// detected by its RIFF header, everything else that is not declared as raw
// PCM is decoded as MP3.
func DecodeClip(data []byte, format string) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("audio: empty clip")
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		pcm, info, err := DecodeWAV(bytes.NewReader(data))
		if err != nil {
			return Clip{}, err
		}
		return Clip{PCM: pcm, SampleRate: info.SampleRate, Channels: info.Channels}, nil
	}
	if rate, ok := rawPCMRate(format); ok {
		return Clip{PCM: data[:len(data)-len(data)%2], SampleRate: rate, Channels: 1}, nil
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("audio: mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always produces interleaved 16-bit stereo.
	return Clip{PCM: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// rawPCMRate parses output formats of the form "pcm_<rate>".
func rawPCMRate(format string) (int, bool) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		if format == "pcm" {
			return 24000, true
		}
		return 0, false
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}
