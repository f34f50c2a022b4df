package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/planwright/service"
)

// defaultDebounce is how long to wait for further writes before reloading,
// so editors that write in several steps trigger one reload.
const defaultDebounce = 500 * time.Millisecond

// ServicesWatcher hot-reloads the knowledge-service table when its file
// changes. A table that fails to load or validate is rejected and the
// previously applied one stays in effect.
type ServicesWatcher struct {
	path     string
	apply    func([]service.Descriptor) error
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	pendingMu sync.Mutex
	pending   bool
}

// WatcherOption configures a ServicesWatcher.
type WatcherOption func(*ServicesWatcher)

// WithDebounce overrides the reload debounce delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *ServicesWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewServicesWatcher creates a watcher for the given services file. apply
// receives every successfully loaded table, typically Registry.Apply.
func NewServicesWatcher(path string, apply func([]service.Descriptor) error, logger *slog.Logger, opts ...WatcherOption) (*ServicesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &ServicesWatcher{
		path:     filepath.Clean(path),
		apply:    apply,
		watcher:  fsw,
		logger:   logger,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start applies the current file content, then begins watching for
// changes. The initial load must succeed; later failures only log.
func (w *ServicesWatcher) Start(ctx context.Context) error {
	if err := w.reload(); err != nil {
		return err
	}

	// Watch the directory, not the file: editors and atomic writers
	// replace the file by rename, which kills a file-level watch.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Services watcher started",
		"path", w.path,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *ServicesWatcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *ServicesWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Services watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *ServicesWatcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Services file change detected",
		"path", w.path,
		"op", event.Op.String())
}

func (w *ServicesWatcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !dirty {
		return
	}

	if err := w.reload(); err != nil {
		w.logger.Error("Services reload rejected, keeping previous table",
			"path", w.path,
			"error", err)
	}
}

func (w *ServicesWatcher) reload() error {
	descs, err := LoadServicesFile(w.path)
	if err != nil {
		return err
	}
	if err := w.apply(descs); err != nil {
		return err
	}
	w.logger.Info("Services table applied",
		"path", w.path,
		"services", len(descs))
	return nil
}
