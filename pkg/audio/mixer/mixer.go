package mixer

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/voxcore/pkg/audio"
)

var _ audio.Sink = (*Queue)(nil)

var (
	// ErrInterrupted is returned for a clip that was cut off or dropped by
	// preemption or [Queue.Interrupt].
	ErrInterrupted = errors.New("mixer: playback interrupted")

	// ErrClosed is returned for clips enqueued on or pending in a closed
	// queue.
	ErrClosed = errors.New("mixer: queue closed")
)

// Option configures a [Queue].
type Option func(*Queue)

// WithGap sets the pause between consecutive clips. A jitter of plus or
// minus one sixth of the gap is applied. Zero, the default, plays clips back
// to back.
func WithGap(d time.Duration) Option {
	return func(q *Queue) { q.gap = max(d, 0) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// request is one clip travelling through the queue.
type request struct {
	ctx    context.Context
	clip   []byte
	result chan error // buffered, receives exactly once
}

func (r *request) finish(err error) { r.result <- err }

// Queue plays clips on a sink one at a time. It implements [audio.Sink]
// itself, so it can stand in wherever a sink is expected; [Queue.Play] uses
// priority 0. All methods are safe for concurrent use.
type Queue struct {
	sink   audio.Sink
	gap    time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	queue      clipHeap
	seq        uint64
	playing    bool
	playingPri int
	cancel     context.CancelCauseFunc // cancels the clip on the sink
	closed     bool

	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New starts a queue in front of sink. Close the queue to stop its goroutine;
// that also closes sink.
func New(sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:    sink,
		logger:  slog.Default(),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	heap.Init(&q.queue)
	go q.dispatch()
	return q
}

// Play implements [audio.Sink]. It is PlayPriority with priority 0.
func (q *Queue) Play(ctx context.Context, clip []byte) error {
	return q.PlayPriority(ctx, clip, 0)
}

// PlayPriority enqueues clip and blocks until it has been played, was
// interrupted, or ctx is done. Cancelling ctx withdraws a waiting clip and
// stops a playing one.
func (q *Queue) PlayPriority(ctx context.Context, clip []byte, priority int) error {
	req := q.enqueue(ctx, clip, priority)
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		q.withdraw(req)
		// A playing clip shares ctx, so the sink returns promptly.
		return <-req.result
	}
}

// Enqueue schedules clip and returns a channel that receives the playback
// result exactly once. A clip with a higher priority than the one playing
// preempts it; the preempted clip reports [ErrInterrupted].
func (q *Queue) Enqueue(ctx context.Context, clip []byte, priority int) <-chan error {
	return q.enqueue(ctx, clip, priority).result
}

func (q *Queue) enqueue(ctx context.Context, clip []byte, priority int) *request {
	req := &request{ctx: ctx, clip: clip, result: make(chan error, 1)}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		req.finish(ErrClosed)
		return req
	}
	q.seq++
	heap.Push(&q.queue, entry{req: req, priority: priority, seq: q.seq})
	if q.playing && priority > q.playingPri {
		q.logger.Debug("preempting clip", "playing_priority", q.playingPri, "priority", priority)
		q.cancelLocked(ErrInterrupted)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return req
}

// withdraw removes req from the queue if it is still waiting.
func (q *Queue) withdraw(req *request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.queue {
		if e.req == req {
			heap.Remove(&q.queue, i)
			req.finish(req.ctx.Err())
			return
		}
	}
}

// Interrupt stops the clip on the sink and drops every queued clip. Each of
// them reports [ErrInterrupted]. It reports whether anything was playing or
// queued.
func (q *Queue) Interrupt() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	busy := q.playing || q.queue.Len() > 0
	q.cancelLocked(ErrInterrupted)
	q.dropLocked(ErrInterrupted)
	return busy
}

// Busy reports whether a clip is playing or waiting.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || q.queue.Len() > 0
}

// SetGap changes the pause between clips, effective from the next clip.
func (q *Queue) SetGap(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gap = max(d, 0)
}

// Close interrupts playback, fails pending clips with [ErrClosed], stops the
// dispatcher and closes the sink. Subsequent calls return nil.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cancelLocked(ErrClosed)
	q.dropLocked(ErrClosed)
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
	return q.sink.Close()
}

// cancelLocked stops the clip on the sink. Must be called with q.mu held.
func (q *Queue) cancelLocked(cause error) {
	if q.cancel != nil {
		q.cancel(cause)
		q.cancel = nil
	}
}

// dropLocked fails every queued clip. Must be called with q.mu held.
func (q *Queue) dropLocked(err error) {
	for q.queue.Len() > 0 {
		heap.Pop(&q.queue).(entry).req.finish(err)
	}
}

func (q *Queue) dispatch() {
	defer close(q.stopped)
	played := false
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			req, ctx, ok := q.next()
			if !ok {
				break
			}
			if played && !q.pause(ctx) {
				req.finish(playError(ctx))
				q.idle()
				continue
			}
			req.finish(q.play(ctx, req))
			played = true
			q.idle()
		}
	}
}

// next pops the highest priority clip whose caller is still waiting and
// marks it playing.
func (q *Queue) next() (*request, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.queue.Len() > 0 && !q.closed {
		e := heap.Pop(&q.queue).(entry)
		if err := e.req.ctx.Err(); err != nil {
			e.req.finish(err)
			continue
		}
		ctx, cancel := context.WithCancelCause(e.req.ctx)
		q.playing, q.playingPri, q.cancel = true, e.priority, cancel
		return e.req, ctx, true
	}
	return nil, nil, false
}

func (q *Queue) idle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel(nil)
		q.cancel = nil
	}
	q.playing = false
}

func (q *Queue) play(ctx context.Context, req *request) error {
	err := q.sink.Play(ctx, req.clip)
	if ctx.Err() != nil {
		return playError(ctx)
	}
	return err
}

// playError translates the cancellation of a playing clip into the error its
// caller sees.
func playError(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrInterrupted) || errors.Is(cause, ErrClosed) {
		return cause
	}
	return ctx.Err()
}

// pause waits out the gap before the next clip. It returns false when the
// clip was cancelled meanwhile.
func (q *Queue) pause(ctx context.Context) bool {
	d := q.gapWithJitter()
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) gapWithJitter() time.Duration {
	q.mu.Lock()
	base := q.gap
	q.mu.Unlock()
	if base <= 0 {
		return 0
	}
	j := base / 6
	if j <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(2*j+1))) - j
}
