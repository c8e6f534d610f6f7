// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer wraps a speech synthesis service (ElevenLabs, the OpenAI
// speech endpoint, or a local Coqui server) behind one blocking call: text
// and a voice go in, a complete playable clip comes out. Partial or streamed
// output is collected by the backend before it returns.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects and shapes the voice used for one synthesis call.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Stability trades expressiveness for consistency (0.0–1.0). Backends
	// without such a control ignore it.
	Stability float64

	// Clarity boosts similarity to the original voice (0.0–1.0). ElevenLabs
	// calls this similarity_boost.
	Clarity float64

	// Style exaggerates the speaking style of the voice (0.0–1.0).
	Style float64
}

// VoiceInfo describes one voice in a provider's catalogue.
type VoiceInfo struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize turns text into one complete audio clip in the format
	// reported by OutputFormat. A failed call returns a nil clip and an
	// error; there is no partial output.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)

	// ListVoices returns all voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceInfo, error)

	// OutputFormat names the encoding of synthesized clips, e.g.
	// "mp3_44100_128", "pcm_16000" or "wav".
	OutputFormat() string
}
