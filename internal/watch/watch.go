// Package watch reloads a configuration file when it changes on disk.
//
// The parent directory is watched rather than the file itself so that editors
// which save by writing a temporary file and renaming it over the original
// keep triggering reloads.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/matt-riley/flagfile/internal/logging"
)

const (
	DefaultDebounce      = 100 * time.Millisecond
	defaultReloadTimeout = 5 * time.Second
)

type Watcher struct {
	path   string
	reload func(context.Context) error

	debounce      time.Duration
	resync        time.Duration
	reloadTimeout time.Duration
	logger        *slog.Logger
	onError       func(error)
	onEvent       func()

	ready chan struct{}
}

type Option func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithResyncInterval reloads on a fixed interval as well, for file systems
// that do not deliver change notifications. Zero disables it.
func WithResyncInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.resync = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnError is called with every failed reload and watcher error.
func OnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// OnEvent is called for every file system event that concerns the file.
func OnEvent(fn func()) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

func New(path string, reload func(context.Context) error, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch path is empty")
	}
	if reload == nil {
		return nil, errors.New("reload function is nil")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	w := &Watcher{
		path:          filepath.Clean(abs),
		reload:        reload,
		debounce:      DefaultDebounce,
		reloadTimeout: defaultReloadTimeout,
		logger:        logging.Discard(),
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path is the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Ready is closed once Run has started watching.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done. It returns nil on cancellation and an error
// only if watching cannot start or the notifier shuts down underneath it.
// Reload failures are reported through OnError and never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer notifier.Close()

	dir := filepath.Dir(w.path)
	if err := notifier.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	close(w.ready)
	w.logger.Debug("file watcher started", slog.String("path", w.path))

	var (
		timer   *time.Timer
		pending <-chan time.Time
		resync  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	if w.resync > 0 {
		ticker := time.NewTicker(w.resync)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("file watcher stopped", slog.String("path", w.path))
			return nil
		case event, ok := <-notifier.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if !w.relevant(event) {
				continue
			}
			if w.onEvent != nil {
				w.onEvent()
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-notifier.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			w.fail(fmt.Errorf("watch %s: %w", w.path, err))
		case <-pending:
			pending = nil
			w.reloadNow(ctx, "file changed")
		case <-resync:
			w.reloadNow(ctx, "resync")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

func (w *Watcher) reloadNow(ctx context.Context, cause string) {
	reloadCtx, cancel := context.WithTimeout(ctx, w.reloadTimeout)
	defer cancel()

	w.logger.Info("reloading configuration", slog.String("path", w.path), slog.String("cause", cause))
	if err := w.reload(reloadCtx); err != nil {
		w.fail(fmt.Errorf("reload %s: %w", w.path, err))
	}
}

func (w *Watcher) fail(err error) {
	w.logger.Error("file watcher error", slog.String("error", err.Error()))
	if w.onError != nil {
		w.onError(err)
	}
}
