package audio

import (
	"encoding/binary"
	"math"
)

// Every helper here works on signed 16-bit little-endian PCM. A trailing odd
// byte is never a sample.

func sample16(pcm []byte, i int) int16 { return int16(binary.LittleEndian.Uint16(pcm[2*i:])) }

func putSample16(pcm []byte, i int, v int16) { binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v)) }

func clamp16(v float64) int16 {
	return int16(max(min(v, math.MaxInt16), math.MinInt16))
}

// PCM16ToFloat32 returns pcm as samples in [-1, 1).
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	DecodePCM16(out, pcm)
	return out
}

// DecodePCM16 writes up to len(dst) samples of src into dst and returns how
// many it wrote. It does not allocate, so frames can be appended into one
// preallocated buffer.
func DecodePCM16(dst []float32, src []byte) int {
	n := min(len(src)/2, len(dst))
	for i := range n {
		dst[i] = float32(sample16(src, i)) / 32768
	}
	return n
}

// Float32ToPCM16 is the inverse of [PCM16ToFloat32]. Samples outside [-1, 1]
// are clipped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		putSample16(out, i, clamp16(math.Round(float64(s)*math.MaxInt16)))
	}
	return out
}

// Int16ToPCM16 serialises native samples, as PortAudio delivers them.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		putSample16(out, i, s)
	}
	return out
}

// Downmix averages each interleaved frame of channels samples into one mono
// sample. An incomplete trailing frame is dropped and channels below 2 return
// pcm unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels < 2 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, 2*frames)
	for f := range frames {
		var sum int64
		for c := range channels {
			sum += int64(sample16(pcm, f*channels+c))
		}
		putSample16(out, f, int16(sum/int64(channels)))
	}
	return out
}

// StereoToMono is [Downmix] for two channels.
func StereoToMono(pcm []byte) []byte { return Downmix(pcm, 2) }

// ResampleMono16 converts mono pcm from srcRate to dstRate by linear
// interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	n := len(pcm) / 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || n == 0 {
		return pcm
	}
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	out := make([]byte, 2*outN)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sample16(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sample16(pcm, j+1))
		}
		putSample16(out, i, int16(a+(b-a)*(pos-float64(j))))
	}
	return out
}
