package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcore/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Synthesizer{Audio: []byte("primary")}
	secondary := &ttsmock.Synthesizer{Audio: []byte("secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	clip, err := fb.Synthesize(context.Background(), "hi", tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(clip) != "primary" {
		t.Fatalf("clip = %q, want primary", clip)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
	if got := primary.Calls()[0].Voice.ID; got != "v1" {
		t.Errorf("voice = %q, want v1", got)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{SynthesizeErr: errors.New("quota")}
	secondary := &ttsmock.Synthesizer{Audio: []byte("secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	clip, err := fb.Synthesize(context.Background(), "hi", tts.Voice{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(clip) != "secondary" {
		t.Fatalf("clip = %q, want secondary", clip)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Synthesizer{SynthesizeErr: errors.New("fail 1")}
	secondary := &ttsmock.Synthesizer{SynthesizeErr: errors.New("fail 2")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	if _, err := fb.Synthesize(context.Background(), "hi", tts.Voice{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
}

func TestTTSFallback_RejectsMismatchedFormat(t *testing.T) {
	primary := &ttsmock.Synthesizer{Format: "wav"}
	other := &ttsmock.Synthesizer{Format: "pcm_16000"}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{})
	if err := fb.AddFallback("openai", other); err == nil {
		t.Fatal("expected an error for a mismatched output format")
	}
	if fb.OutputFormat() != "wav" {
		t.Errorf("OutputFormat = %q, want wav", fb.OutputFormat())
	}
	if len(fb.States()) != 1 {
		t.Errorf("rejected fallback should not be added, states = %v", fb.States())
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{ListVoicesErr: errors.New("down")}
	secondary := &ttsmock.Synthesizer{ListVoicesResult: []tts.VoiceInfo{{ID: "v2", Name: "Bob"}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Fatalf("voices = %+v", voices)
	}
}
