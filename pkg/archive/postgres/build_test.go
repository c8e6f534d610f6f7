package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxcore/pkg/archive"
)

func TestBuildSearch(t *testing.T) {
	t.Parallel()
	after := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	before := after.Add(time.Hour)

	tests := []struct {
		name     string
		q        archive.Query
		contains []string
		absent   []string
		args     int
	}{
		{
			name:   "everything",
			q:      archive.Query{},
			absent: []string{"WHERE", "LIMIT"},
		},
		{
			name:     "text only",
			q:        archive.Query{Text: "  the gate "},
			contains: []string{"WHERE", "plainto_tsquery('simple', $1)"},
			absent:   []string{"LIMIT"},
			args:     1,
		},
		{
			name:     "all filters",
			q:        archive.Query{Text: "gate", After: after, Before: before, Limit: 5},
			contains: []string{"$1", "published_at > $2", "published_at < $3", "LIMIT  $4"},
			args:     4,
		},
		{
			name:     "time window without text",
			q:        archive.Query{After: after},
			contains: []string{"WHERE  published_at > $1"},
			absent:   []string{"plainto_tsquery"},
			args:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sql, args := buildSearch(tt.q)
			for _, s := range tt.contains {
				if !strings.Contains(sql, s) {
					t.Errorf("sql missing %q:\n%s", s, sql)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(sql, s) {
					t.Errorf("sql should not contain %q:\n%s", s, sql)
				}
			}
			if len(args) != tt.args {
				t.Errorf("args = %v, want %d", args, tt.args)
			}
			if !strings.HasSuffix(strings.TrimSpace(strings.Split(sql, "LIMIT")[0]), "ORDER  BY published_at, id") {
				t.Errorf("results are not ordered chronologically:\n%s", sql)
			}
		})
	}

	if _, args := buildSearch(archive.Query{Text: "  the gate "}); args[0] != "the gate" {
		t.Errorf("text arg = %q, want trimmed", args[0])
	}
}
