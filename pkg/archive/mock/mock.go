// Package mock provides an in-memory test double for [archive.Store].
//
// Written entries are kept in order and served back by Recent and Search,
// so the mock doubles as a tiny working archive in tests. Every method has
// an *Err field that, when set, is returned instead.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxcore/pkg/archive"
)

// Store is a mock implementation of [archive.Store].
type Store struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by Write and nothing is stored.
	WriteErr error

	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// Now overrides the clock used by Recent. Defaults to time.Now.
	Now func() time.Time

	entries    []archive.Entry
	queries    []archive.Query
	closeCount int
}

// Write implements [archive.Store].
func (s *Store) Write(_ context.Context, e archive.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements [archive.Store].
func (s *Store) Recent(_ context.Context, window time.Duration) ([]archive.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().Add(-window)
	out := []archive.Entry{}
	for _, e := range s.entries {
		if !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search implements [archive.Store]. Text matches case-insensitive
// substrings.
func (s *Store) Search(_ context.Context, q archive.Query) ([]archive.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	want := strings.ToLower(strings.TrimSpace(q.Text))
	out := []archive.Entry{}
	for _, e := range s.entries {
		switch {
		case want != "" && !strings.Contains(strings.ToLower(e.Text), want):
		case !q.After.IsZero() && !e.At.After(q.After):
		case !q.Before.IsZero() && !e.At.Before(q.Before):
		default:
			out = append(out, e)
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Ping implements [archive.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [archive.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

// Entries returns a copy of everything written so far. Thread-safe.
func (s *Store) Entries() []archive.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Queries returns every query passed to Search. Thread-safe.
func (s *Store) Queries() []archive.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

// Closes returns how many times Close was called. Thread-safe.
func (s *Store) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

var _ archive.Store = (*Store)(nil)
