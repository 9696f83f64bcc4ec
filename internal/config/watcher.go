package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 300 * time.Millisecond

// ChangeHandler receives each successfully reloaded configuration.
type ChangeHandler func(cfg Config)

// WatcherOption mutates one watcher configuration.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(debounce time.Duration) WatcherOption {
	return func(watcher *Watcher) {
		if debounce > 0 {
			watcher.debounce = debounce
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(watcher *Watcher) {
		if logger != nil {
			watcher.logger = logger
		}
	}
}

// Watcher reloads one config file when it changes on disk.
//
// The parent directory is watched so editors that replace the file by
// rename are still observed. Files that fail to load are logged and the
// previous configuration stays in effect.
type Watcher struct {
	path     string
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path calling handler after each reload.
func NewWatcher(path string, handler ChangeHandler, options ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("new config watcher: empty path")
	}
	if handler == nil {
		return nil, fmt.Errorf("new config watcher: nil handler")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("new config watcher: resolve %s: %w", path, err)
	}

	watcher := &Watcher{
		path:     absPath,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(watcher)
	}

	return watcher, nil
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	defer func() {
		_ = fsWatcher.Close()
	}()

	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.InfoContext(ctx, "config watcher started", "path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "config watcher stopped", "path", w.path)
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorContext(ctx, "config watcher error", "error", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.ErrorContext(ctx, "config reload failed", "path", w.path, "error", err)
		return
	}

	w.logger.InfoContext(ctx, "config reloaded", "path", w.path)
	w.handler(cfg)
}
