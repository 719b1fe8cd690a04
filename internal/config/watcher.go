package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// ApplyFunc receives the difference between the running and the reloaded
// configuration together with the reloaded configuration itself.
type ApplyFunc func(diff ConfigDiff, next *Config)

// Watcher reloads the config file when its content changes and hands the
// [ConfigDiff] to an [ApplyFunc]. An edit that fails to parse or validate
// is logged and the running configuration is kept.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	current *Config
	hash    [sha256.Size]byte
	mtime   time.Time
	size    int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. The initial load must succeed.
// apply may be nil.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply}
	for _, opt := range opts {
		opt(w)
	}
	info, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.hash, w.mtime, w.size = cfg, sha256.Sum256(data), info.ModTime(), info.Size()
	return w, nil
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled. Files whose modification time
// and size are unchanged are not re-read.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.statChanged() {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: keeping running configuration", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) statChanged() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.mtime) || info.Size() != w.size
}

// Reload reads the file now, e.g. on SIGHUP. It reports whether the content
// differed from the running configuration. The apply function runs only for
// a changed, valid file.
func (w *Watcher) Reload() (bool, error) {
	info, data, err := w.read()
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	w.mtime, w.size = info.ModTime(), info.Size()
	if sum == w.hash {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	next, err := parseBytes(data)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	prev := w.current
	w.current, w.hash = next, sum
	w.mu.Unlock()

	diff := Diff(prev, next)
	slog.Info("config: reloaded", "path", w.path, "restart_required", diff.RestartRequired)
	if w.apply != nil {
		w.apply(diff, next)
	}
	return true, nil
}

func (w *Watcher) read() (os.FileInfo, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}
