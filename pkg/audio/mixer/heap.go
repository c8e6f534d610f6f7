// Package mixer serialises clip playback on an [audio.Sink].
//
// A [Queue] plays one clip at a time in priority order. A clip enqueued with
// a higher priority than the one playing preempts it, equal priorities play
// in arrival order, and [Queue.Interrupt] silences the sink and drops
// everything still waiting.
package mixer

// entry is one queued clip with its scheduling metadata.
type entry struct {
	req      *request
	priority int
	seq      uint64 // arrival order, breaks priority ties
}

// clipHeap is a max-heap on priority with FIFO tie-breaking on seq. It
// implements container/heap.Interface.
type clipHeap []entry

func (h clipHeap) Len() int { return len(h) }

func (h clipHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *clipHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
