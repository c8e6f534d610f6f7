package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return res
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	h.now = func() time.Time { return h.started.Add(90*time.Second + 400*time.Millisecond) }

	rec := serve(h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	res := decode(t, rec)
	if res.Status != "ok" || res.Uptime != "1m30s" {
		t.Errorf("body = %+v", res)
	}
	if res.Checks != nil {
		t.Error("liveness must not run readiness checks")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("circuit open") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantField  string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantField:  "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "stt", Check: ok}, {Name: "tts", Check: ok}},
			wantStatus: http.StatusOK,
			wantField:  "ok",
			wantChecks: map[string]string{"stt": "ok", "tts": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "stt", Check: ok}, {Name: "tts", Check: fail}},
			wantStatus: http.StatusServiceUnavailable,
			wantField:  "fail",
			wantChecks: map[string]string{"stt": "ok", "tts": "fail: circuit open"},
		},
		{
			name:       "optional fails",
			checkers:   []Checker{{Name: "stt", Check: ok}, {Name: "archive", Check: fail, Optional: true}},
			wantStatus: http.StatusOK,
			wantField:  "degraded",
			wantChecks: map[string]string{"stt": "ok", "archive": "fail: circuit open"},
		},
		{
			name: "required and optional fail",
			checkers: []Checker{
				{Name: "archive", Check: fail, Optional: true},
				{Name: "stt", Check: fail},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantField:  "fail",
			wantChecks: map[string]string{"stt": "fail: circuit open", "archive": "fail: circuit open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(New(tt.checkers...), "/readyz")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status %d, want %d", rec.Code, tt.wantStatus)
			}
			res := decode(t, rec)
			if res.Status != tt.wantField {
				t.Errorf("status field = %q, want %q", res.Status, tt.wantField)
			}
			if len(res.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", res.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if res.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, res.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		entered <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- serve(h, "/readyz") }()
	for range 2 {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if rec := <-done; rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}

func TestReadyz_CheckSeesRequestCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", rec.Code)
	}
}
