package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

// Default cache bounds.
const (
	DefaultCacheEntries = 50
	DefaultEvictBatch   = 10
)

type cacheKey struct {
	voiceID string
	text    [sha256.Size]byte
}

func (k cacheKey) String() string {
	return k.voiceID + ":" + hex.EncodeToString(k.text[:])
}

// SynthesisCache memoises synthesized clips by voice id and text. When an
// insertion pushes it above its capacity the oldest entries are evicted in
// one batch. The entry map and insertion order share a single mutex; the
// synthesis call itself runs outside of it.
type SynthesisCache struct {
	synth        tts.Synthesizer
	name         string
	maxEntries   int
	evictBatch   int
	singleFlight bool
	metrics      *observe.Metrics
	logger       *slog.Logger
	group        singleflight.Group

	mu       sync.Mutex
	defaults tts.Voice
	entries  map[cacheKey][]byte
	order    []cacheKey
}

// CacheOption configures a [SynthesisCache].
type CacheOption func(*SynthesisCache)

// WithCapacity sets the entry limit and the number of oldest entries removed
// when it is exceeded. Non-positive values keep the defaults; the batch is
// capped at the limit.
func WithCapacity(maxEntries, evictBatch int) CacheOption {
	return func(c *SynthesisCache) {
		if maxEntries > 0 {
			c.maxEntries = maxEntries
		}
		if evictBatch > 0 {
			c.evictBatch = evictBatch
		}
	}
}

// WithSingleFlight collapses concurrent misses for the same key into one
// synthesis call.
func WithSingleFlight(enabled bool) CacheOption {
	return func(c *SynthesisCache) { c.singleFlight = enabled }
}

// WithDefaultVoice sets the voice used when a caller passes no voice id, and
// the shaping parameters applied to every call.
func WithDefaultVoice(v tts.Voice) CacheOption {
	return func(c *SynthesisCache) { c.defaults = v }
}

// WithCacheMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithCacheMetrics(m *observe.Metrics) CacheOption {
	return func(c *SynthesisCache) { c.metrics = m }
}

// WithCacheLogger sets the logger. Defaults to slog.Default().
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *SynthesisCache) { c.logger = l }
}

// WithSynthesizerName sets the provider label used in metrics and logs.
func WithSynthesizerName(name string) CacheOption {
	return func(c *SynthesisCache) { c.name = name }
}

// NewSynthesisCache returns an empty cache in front of synth.
func NewSynthesisCache(synth tts.Synthesizer, opts ...CacheOption) *SynthesisCache {
	c := &SynthesisCache{
		synth:      synth,
		name:       "tts",
		maxEntries: DefaultCacheEntries,
		evictBatch: DefaultEvictBatch,
		entries:    make(map[cacheKey][]byte),
	}
	for _, o := range opts {
		o(c)
	}
	c.evictBatch = min(c.evictBatch, c.maxEntries)
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SetDefaults replaces the default voice. Cached clips are keyed by voice id
// only, so clips synthesized with older shaping values stay cached.
func (c *SynthesisCache) SetDefaults(v tts.Voice) {
	c.mu.Lock()
	c.defaults = v
	c.mu.Unlock()
}

// Defaults returns the current default voice.
func (c *SynthesisCache) Defaults() tts.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaults
}

// Len returns the number of cached clips.
func (c *SynthesisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a clip for text and voiceID is cached.
func (c *SynthesisCache) Contains(text, voiceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[c.keyLocked(text, voiceID)]
	return ok
}

// GetOrSynthesize returns the cached clip for text and voiceID, synthesizing
// and storing it on a miss. An empty voiceID selects the default voice.
// Failures wrap [ErrSynthesis] and are not cached. The returned slice is
// shared with the cache and must not be modified.
func (c *SynthesisCache) GetOrSynthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	c.mu.Lock()
	voice := c.defaults
	if voiceID != "" {
		voice.ID = voiceID
	}
	key := c.keyLocked(text, voice.ID)
	clip, ok := c.entries[key]
	c.mu.Unlock()

	c.metrics.RecordCacheLookup(ctx, ok)
	if ok {
		return clip, nil
	}

	if !c.singleFlight {
		return c.fill(ctx, key, text, voice)
	}
	// The shared fill outlives any single caller: a caller that gives up
	// returns its own ctx error while the others still receive the clip.
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), key, text, voice)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("synthesis shared with concurrent caller", "voice_id", voice.ID)
		}
		return res.Val.([]byte), nil
	}
}

// fill performs one synthesis call and inserts the result.
func (c *SynthesisCache) fill(ctx context.Context, key cacheKey, text string, voice tts.Voice) ([]byte, error) {
	if c.synth == nil {
		return nil, fmt.Errorf("%w: %w: no synthesizer configured", ErrSynthesis, ErrConfiguration)
	}

	ctx, span := observe.StartSpan(ctx, "voice.synthesize",
		trace.WithAttributes(
			attribute.String("voice.id", voice.ID),
			attribute.Int("text.length", len(text)),
		),
	)

	start := time.Now()
	clip, err := c.synth.Synthesize(ctx, text, voice)
	c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && len(clip) == 0 {
		err = errors.New("empty clip")
	}
	observe.EndSpan(span, err)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.name, "tts", "error")
		c.metrics.RecordProviderError(ctx, c.name, "tts")
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	c.metrics.RecordProviderRequest(ctx, c.name, "tts", "ok")

	evicted := c.insert(key, clip)
	if evicted > 0 {
		c.metrics.CacheEvictions.Add(ctx, int64(evicted))
		c.logger.Debug("synthesis cache evicted oldest entries", "count", evicted)
	}
	return clip, nil
}

// insert stores clip and evicts in the same critical section. It returns the
// number of evicted entries.
func (c *SynthesisCache) insert(key cacheKey, clip []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = clip
		return 0
	}
	c.entries[key] = clip
	c.order = append(c.order, key)
	if len(c.order) <= c.maxEntries {
		return 0
	}
	n := c.evictBatch
	for _, k := range c.order[:n] {
		delete(c.entries, k)
	}
	c.order = slices.Delete(c.order, 0, n)
	return n
}

func (c *SynthesisCache) keyLocked(text, voiceID string) cacheKey {
	if voiceID == "" {
		voiceID = c.defaults.ID
	}
	return cacheKey{voiceID: voiceID, text: sha256.Sum256([]byte(text))}
}
