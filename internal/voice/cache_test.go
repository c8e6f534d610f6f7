package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxcore/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcore/pkg/provider/tts/mock"
)

func newTestCache(t *testing.T, synth tts.Synthesizer, opts ...CacheOption) *SynthesisCache {
	t.Helper()
	m, _ := newTestMetrics(t)
	opts = append([]CacheOption{WithCacheMetrics(m), WithCacheLogger(discardLogger())}, opts...)
	return NewSynthesisCache(synth, opts...)
}

// echoSynth returns a synthesizer whose clip is "<voice>|<text>".
func echoSynth() *ttsmock.Synthesizer {
	return &ttsmock.Synthesizer{
		AudioFunc: func(text string, v tts.Voice) []byte { return []byte(v.ID + "|" + text) },
	}
}

func TestCache_HitSurvivesFailingEngine(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	c := newTestCache(t, synth, WithDefaultVoice(tts.Voice{ID: "v1"}))
	ctx := context.Background()

	first, err := c.GetOrSynthesize(ctx, "hello", "v1")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	synth.SetError(errors.New("quota exceeded"))
	second, err := c.GetOrSynthesize(ctx, "hello", "v1")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(second) != string(first) {
		t.Errorf("second = %q, want %q", second, first)
	}
	if got := synth.CallCount(); got != 1 {
		t.Errorf("synthesizer called %d times, want 1", got)
	}
}

func TestCache_FailureNotCached(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	synth.SynthesizeErr = errors.New("boom")
	c := newTestCache(t, synth)
	ctx := context.Background()

	clip, err := c.GetOrSynthesize(ctx, "hi", "v1")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if clip != nil {
		t.Errorf("clip = %q, want nil", clip)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after failure, want 0", c.Len())
	}

	synth.SetError(nil)
	if _, err := c.GetOrSynthesize(ctx, "hi", "v1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := synth.CallCount(); got != 2 {
		t.Errorf("synthesizer called %d times, want 2", got)
	}
}

func TestCache_EmptyClipIsFailure(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, &ttsmock.Synthesizer{Audio: nil})
	if _, err := c.GetOrSynthesize(context.Background(), "hi", "v1"); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestCache_NoSynthesizer(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	_, err := c.GetOrSynthesize(context.Background(), "hi", "")
	if !errors.Is(err, ErrSynthesis) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrSynthesis and ErrConfiguration", err)
	}
}

func TestCache_EvictsOldestBatch(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	synth := echoSynth()
	c := NewSynthesisCache(synth, WithCacheMetrics(m), WithCacheLogger(discardLogger()))
	ctx := context.Background()

	for i := range 50 {
		if _, err := c.GetOrSynthesize(ctx, fmt.Sprintf("line %d", i), "v1"); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 50 {
		t.Fatalf("Len = %d, want 50", c.Len())
	}

	if _, err := c.GetOrSynthesize(ctx, "line 50", "v1"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 41 {
		t.Fatalf("Len = %d after overflow, want 41", c.Len())
	}
	for i := range 51 {
		text := fmt.Sprintf("line %d", i)
		if got, want := c.Contains(text, "v1"), i >= 10; got != want {
			t.Errorf("Contains(%q) = %v, want %v", text, got, want)
		}
	}
	if got := counterTotal(t, reader, "voxcore.cache.evictions"); got != 10 {
		t.Errorf("evictions = %d, want 10", got)
	}
}

func TestCache_CustomCapacity(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, echoSynth(), WithCapacity(3, 2))
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := c.GetOrSynthesize(ctx, text, "v"); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if c.Contains("a", "v") || c.Contains("b", "v") {
		t.Error("oldest entries not evicted")
	}
	if !c.Contains("c", "v") || !c.Contains("d", "v") {
		t.Error("newest entries evicted")
	}
}

func TestCache_KeyedByVoice(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	c := newTestCache(t, synth, WithDefaultVoice(tts.Voice{ID: "narrator", Stability: 0.3, Clarity: 0.6, Style: 0.1}))
	ctx := context.Background()

	a, _ := c.GetOrSynthesize(ctx, "same", "alice")
	b, _ := c.GetOrSynthesize(ctx, "same", "bob")
	d, _ := c.GetOrSynthesize(ctx, "same", "")
	if string(a) == string(b) || string(d) != "narrator|same" {
		t.Errorf("clips = %q, %q, %q", a, b, d)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}

	// Explicit default id is the same key as the empty id.
	if _, err := c.GetOrSynthesize(ctx, "same", "narrator"); err != nil {
		t.Fatal(err)
	}
	if got := synth.CallCount(); got != 3 {
		t.Errorf("synthesizer called %d times, want 3", got)
	}

	// Shaping comes from the defaults, the id from the caller.
	calls := synth.Calls()
	if v := calls[0].Voice; v.ID != "alice" || v.Stability != 0.3 || v.Clarity != 0.6 || v.Style != 0.1 {
		t.Errorf("voice = %+v", v)
	}
}

func TestCache_SetDefaults(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	c := newTestCache(t, synth, WithDefaultVoice(tts.Voice{ID: "old"}))
	c.SetDefaults(tts.Voice{ID: "new", Stability: 0.9})

	clip, err := c.GetOrSynthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(clip) != "new|hi" {
		t.Errorf("clip = %q, want new|hi", clip)
	}
	if c.Defaults().Stability != 0.9 {
		t.Errorf("Defaults() = %+v", c.Defaults())
	}
}

func TestCache_ConcurrentMissesWithoutSingleFlight(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	synth.Block = make(chan struct{})
	c := newTestCache(t, synth)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrSynthesize(context.Background(), "dup", "v")
		}()
	}
	waitFor(t, time.Second, "two synthesis calls", func() bool { return synth.CallCount() == 2 })
	close(synth.Block)
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCache_SingleFlightCollapsesMisses(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	synth.Block = make(chan struct{})
	c := newTestCache(t, synth, WithSingleFlight(true))

	const callers = 8
	var wg sync.WaitGroup
	clips := make([][]byte, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clips[i], _ = c.GetOrSynthesize(context.Background(), "dup", "v")
		}()
	}
	waitFor(t, time.Second, "first synthesis call", func() bool { return synth.CallCount() == 1 })
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(synth.Block)
	wg.Wait()

	if got := synth.CallCount(); got != 1 {
		t.Errorf("synthesizer called %d times, want 1", got)
	}
	for i, clip := range clips {
		if string(clip) != "v|dup" {
			t.Errorf("caller %d got %q", i, clip)
		}
	}
}

func TestCache_SingleFlightSurvivesCallerCancel(t *testing.T) {
	t.Parallel()
	synth := echoSynth()
	synth.Block = make(chan struct{})
	c := newTestCache(t, synth, WithSingleFlight(true))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrSynthesize(ctx, "dup", "v")
		firstErr <- err
	}()
	waitFor(t, time.Second, "first synthesis call", func() bool { return synth.CallCount() == 1 })

	second := make(chan []byte, 1)
	go func() {
		clip, _ := c.GetOrSynthesize(context.Background(), "dup", "v")
		second <- clip
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrSynthesis) {
			t.Errorf("first caller err = %v, want canceled synthesis", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after cancel")
	}

	close(synth.Block)
	select {
	case clip := <-second:
		if string(clip) != "v|dup" {
			t.Errorf("second caller got %q, want v|dup", clip)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller never received the clip")
	}
	if got := synth.CallCount(); got != 1 {
		t.Errorf("synthesizer called %d times, want 1", got)
	}
	if !c.Contains("dup", "v") {
		t.Error("clip from the shared call should be cached")
	}
}

func TestCache_ConcurrentBound(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, echoSynth(), WithCapacity(20, 5))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_, _ = c.GetOrSynthesize(context.Background(), fmt.Sprintf("%d-%d", g, i%30), "v")
			}
		}()
	}
	wg.Wait()
	if c.Len() > 20 {
		t.Errorf("Len = %d exceeds capacity 20", c.Len())
	}
}
