package settings

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

// Watcher reloads the settings file when it changes and hands the new
// settings to a callback.
type Watcher struct {
	mu sync.Mutex

	path   string
	loader *Loader
	logger *log.Logger

	fsWatcher *fsnotify.Watcher

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Editors write files in bursts; events are collapsed into one reload.
	debounceDelay time.Duration
	eventTimer    *time.Timer

	onReload func(s *Settings)
	onError  func(err error)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the delay used to batch file events.
// Default is 100ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnReload sets the callback receiving reloaded settings.
func WithOnReload(fn func(s *Settings)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithOnError sets the callback receiving watch and reload errors.
func WithOnError(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher for the loader's settings file.
func NewWatcher(loader *Loader, logger *log.Logger, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}

	path, err := filepath.Abs(loader.ConfigFile())
	if err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:          path,
		loader:        loader,
		logger:        logger,
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The file's directory is watched so that
// replace-by-rename saves are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.fsWatcher.Close()
		return err
	}

	w.logger.System().Info("settings watcher started", "path", w.path)

	go w.processEvents()
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.System().Info("settings watcher stopped")
	return w.fsWatcher.Close()
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.System().Error("settings watcher error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.eventTimer != nil {
		w.eventTimer.Stop()
	}
	w.eventTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	if !w.IsRunning() {
		return
	}

	s, err := w.loader.Load()
	if err != nil {
		// Keep the previous settings; a half-written file fixes itself on
		// the next event.
		err = bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigParse, "settings reload failed").
			Warning().
			WithField("path", w.path).
			Err()
		w.logger.System().Warn("settings reload failed", "path", w.path, "error", err.Error())
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.logger.System().Info("settings reloaded", "path", w.path,
		"log_level", s.LogLevel, "debug", s.Debug)
	if w.onReload != nil {
		w.onReload(s)
	}
}
