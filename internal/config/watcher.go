package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// notifyDebounce lets a burst of write events settle before the file is read.
const notifyDebounce = 100 * time.Millisecond

// Watcher keeps a config file's parsed content current. Edits that fail to
// parse or validate are logged and ignored, so the last valid config stays in
// effect. Edits that leave every setting unchanged (comments, reordering)
// update nothing and do not reach the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	logger   *slog.Logger

	// reloadMu serialises Reload calls from Run and signal handlers.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	hash    [sha256.Size]byte
}

// fileStamp is the cheap part of change detection.
type fileStamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload diagnostics. Defaults to
// slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads path and returns a watcher for it. onChange (may be nil)
// receives the previous and the new config after every effective edit.
// Nothing is polled until [Watcher.Run] is called.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, hash, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp, w.hash = cfg, stamp, hash
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is done. File system notifications on the
// file's directory trigger a check shortly after an edit settles; the polling
// ticker catches whatever notifications miss (network mounts, watcher
// errors). Files whose modification time and size did not move are not
// re-read.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fw, err := w.notify(); err != nil {
		w.logger.Warn("config watcher: file notifications unavailable, polling only", "path", w.path, "err", err)
	} else {
		defer fw.Close()
		events, errs = fw.Events, fw.Errors
	}

	settle := time.NewTimer(notifyDebounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Editors often write a temp file and rename it over the target,
			// so the directory is watched and other names are ignored.
			if filepath.Base(ev.Name) == filepath.Base(w.path) {
				settle.Reset(notifyDebounce)
			}
			continue
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("config watcher: notification error", "path", w.path, "err", err)
			continue
		case <-settle.C:
		case <-ticker.C:
		}
		if !w.touched() {
			continue
		}
		if _, err := w.Reload(); err != nil {
			w.logger.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
	}
}

// notify watches the directory holding the config file.
func (w *Watcher) notify() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, err
	}
	return fw, nil
}

// touched reports whether the file's stamp moved since the last read. A file
// that cannot be stat'ed counts as untouched until it reappears.
func (w *Watcher) touched() bool {
	stamp, err := stampOf(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return stamp != w.stamp
}

// Reload re-reads the file now, regardless of its modification time, and
// reports whether the effective config changed. On error the current config
// is kept.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, stamp, hash, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	sameBytes := hash == w.hash
	w.stamp, w.hash = stamp, hash
	if sameBytes || Diff(old, cfg).Empty() {
		w.mu.Unlock()
		return false, nil
	}
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{mtime: info.ModTime(), size: info.Size()}, nil
}

// read stats before reading, so an edit racing the read shows up as a new
// stamp on the next poll rather than being missed.
func (w *Watcher) read() (cfg *Config, stamp fileStamp, hash [sha256.Size]byte, err error) {
	if stamp, err = stampOf(w.path); err != nil {
		return nil, stamp, hash, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp, hash, err
	}
	if cfg, err = LoadFromReader(bytes.NewReader(data)); err != nil {
		return nil, stamp, hash, err
	}
	return cfg, stamp, sha256.Sum256(data), nil
}
