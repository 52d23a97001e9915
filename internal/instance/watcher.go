package instance

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/cubic/internal/logging"
)

// DefaultDebounce is how long the watcher waits for the filesystem to go
// quiet before reloading.
const DefaultDebounce = 50 * time.Millisecond

// Watcher reloads a Store when instance directories are added, removed or
// renamed outside of cubic. It watches the root and each instance
// directory, which is where descriptors change.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logging.Logger
	onReload func()

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadCallback is invoked after each reload triggered by the watcher.
func WithReloadCallback(fn func()) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the store's root. The store must be
// backed by the OS filesystem; call Start to begin watching.
func NewWatcher(store *Store, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    store,
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logging.NopLogger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(store.Root()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.watchInstanceDirs()
	return w, nil
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.watchLoop()
	}
}

// Stop stops watching and waits for the event loop to exit. Safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.doneCh
	}
}

// watchInstanceDirs adds every directory under the root, indexed or not,
// so a descriptor written after its directory still triggers a reload.
// fsnotify ignores directories that are already watched.
func (w *Watcher) watchInstanceDirs() {
	infos, err := afero.ReadDir(w.store.fs, w.store.Root())
	if err != nil {
		w.logger.Warn("failed to list instance directories", "error", err.Error())
		return
	}
	for _, info := range infos {
		if info.IsDir() {
			_ = w.watcher.Add(filepath.Join(w.store.Root(), info.Name()))
		}
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	// Editors and archive tools emit bursts of events; coalesce them.
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if err := w.store.Reload(); err != nil {
				w.logger.Warn("failed to reload instances", "error", err.Error())
				continue
			}
			w.watchInstanceDirs()
			if w.onReload != nil {
				w.onReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("instance watcher error", "error", err.Error())
		}
	}
}
