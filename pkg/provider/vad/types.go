package vad

// Classification is the detection result for a single window.
type Classification int

const (
	// NonSpeech indicates silence or background noise.
	NonSpeech Classification = iota

	// Speech indicates voice activity.
	Speech
)

// String implements fmt.Stringer.
func (c Classification) String() string {
	if c == Speech {
		return "speech"
	}
	return "non_speech"
}
