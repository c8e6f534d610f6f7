package app

import (
	"sync"
	"time"

	"github.com/MrWong99/voxcore/internal/voice"
)

// EventRecord is a drained voice event as served by GET /events.
type EventRecord struct {
	Seq         uint64    `json:"seq"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text,omitempty"`
	UtteranceID string    `json:"utterance_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// EventLog keeps the most recent drained events so HTTP clients can poll for
// transcripts with a cursor. Sequence numbers start at 1 and never repeat.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	last     uint64
	records  []EventRecord
}

// NewEventLog returns a log holding at most capacity records. A capacity
// below 1 is treated as 1.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{capacity: max(capacity, 1)}
}

// Append records events in order, dropping the oldest records once the log
// is full.
func (l *EventLog) Append(events ...voice.Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		l.last++
		r := EventRecord{
			Seq:         l.last,
			Kind:        e.Kind.String(),
			Text:        e.Text,
			UtteranceID: e.UtteranceID,
			At:          e.At,
		}
		if e.Err != nil {
			r.Error = e.Err.Error()
		}
		l.records = append(l.records, r)
	}
	if over := len(l.records) - l.capacity; over > 0 {
		l.records = append(l.records[:0], l.records[over:]...)
	}
}

// Since returns every retained record with a sequence number greater than
// seq, oldest first.
func (l *EventLog) Since(seq uint64) []EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.records {
		if r.Seq > seq {
			out := make([]EventRecord, len(l.records)-i)
			copy(out, l.records[i:])
			return out
		}
	}
	return nil
}

// Last returns the sequence number of the newest record, or 0 when nothing
// was ever appended.
func (l *EventLog) Last() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
