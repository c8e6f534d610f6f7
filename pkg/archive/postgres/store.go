// Package postgres implements [archive.Store] on PostgreSQL through a pgx
// connection pool. Full-text search uses a GIN index over the transcript
// text; [Migrate] creates the schema on first use.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Write(ctx, archive.Entry{UtteranceID: id, Text: text, At: at})
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxcore/pkg/archive"
)

var _ archive.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [archive.Store]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Write implements [archive.Store].
func (s *Store) Write(ctx context.Context, e archive.Entry) error {
	const q = `
		INSERT INTO transcripts (utterance_id, text, published_at)
		VALUES ($1, $2, $3)`

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q, e.UtteranceID, e.Text, at); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return nil
}

// Recent implements [archive.Store].
func (s *Store) Recent(ctx context.Context, window time.Duration) ([]archive.Entry, error) {
	const q = `
		SELECT utterance_id, text, published_at
		FROM   transcripts
		WHERE  published_at >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY published_at, id`

	rows, err := s.pool.Query(ctx, q, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [archive.Store]. q.Text goes through plainto_tsquery so
// callers need no query syntax.
func (s *Store) Search(ctx context.Context, q archive.Query) ([]archive.Entry, error) {
	sql, args := buildSearch(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return collectEntries(rows)
}

// buildSearch renders q as a parameterised SELECT.
func buildSearch(q archive.Query) (string, []any) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if text := strings.TrimSpace(q.Text); text != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(text)+")")
	}
	if !q.After.IsZero() {
		conditions = append(conditions, "published_at > "+next(q.After))
	}
	if !q.Before.IsZero() {
		conditions = append(conditions, "published_at < "+next(q.Before))
	}

	sql := "SELECT utterance_id, text, published_at\nFROM   transcripts"
	if len(conditions) > 0 {
		sql += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	sql += "\nORDER  BY published_at, id"
	if q.Limit > 0 {
		sql += "\nLIMIT  " + next(q.Limit)
	}
	return sql, args
}

// Ping implements [archive.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Close implements [archive.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectEntries(rows pgx.Rows) ([]archive.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entry, error) {
		var e archive.Entry
		err := row.Scan(&e.UtteranceID, &e.Text, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return entries, nil
}
