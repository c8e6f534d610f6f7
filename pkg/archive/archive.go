// Package archive defines the durable transcript log. Recognized utterances
// are written as they are drained from the voice engine, so history survives
// restarts and outgrows the in-memory event backlog.
//
// The production implementation lives in the postgres subpackage; the mock
// subpackage provides a test double.
package archive

import (
	"context"
	"time"
)

// Entry is one recognized utterance.
type Entry struct {
	// UtteranceID is the id the voice engine assigned to the utterance.
	UtteranceID string `json:"utterance_id"`

	// Text is the (vocabulary-corrected) transcript.
	Text string `json:"text"`

	// At is when the transcript was published.
	At time.Time `json:"at"`
}

// Query filters [Store.Search]. Zero-valued fields are ignored.
type Query struct {
	// Text is a plain-language full-text query. Empty matches everything.
	Text string

	// After and Before bound At, exclusive.
	After  time.Time
	Before time.Time

	// Limit caps the number of results. 0 means no limit.
	Limit int
}

// Store is a durable transcript log. Implementations must be safe for
// concurrent use.
type Store interface {
	// Write appends e.
	Write(ctx context.Context, e Entry) error

	// Recent returns entries from the last window, oldest first.
	Recent(ctx context.Context, window time.Duration) ([]Entry, error)

	// Search returns entries matching q, oldest first.
	Search(ctx context.Context, q Query) ([]Entry, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
