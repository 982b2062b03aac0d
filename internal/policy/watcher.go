package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/invitegen/edgegate/pkg/logger"
)

// DefaultDebounce is the quiet period before a changed file is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherRunning is returned when Watch is called twice.
var ErrWatcherRunning = errors.New("policy watcher already running")

// Watcher reloads a policy file into a Store when it changes. An invalid
// file is logged and the previous table stays active.
type Watcher struct {
	path     string
	store    *Store
	log      *logger.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for path. The parent directory is watched
// so editors that replace the file by rename are picked up.
func NewWatcher(path string, store *Store, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Nop()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		log:      log,
		debounce: DefaultDebounce,
		fs:       fs,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce overrides the quiet period. Call before Watch.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Watch blocks until ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.doneCh)

	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.log.Info("policy watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Error("policy watcher error", "error", err)
		}
	}
}

// Stop ends Watch and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	if running {
		<-w.doneCh
	}
	return w.fs.Close()
}

// Reload reads the file and swaps it in if valid.
func (w *Watcher) Reload() error {
	set, err := LoadFile(w.path)
	if err != nil {
		w.log.Error("policy reload rejected", "path", w.path, "error", err)
		return err
	}
	w.store.Swap(set)
	w.log.Info("policy reloaded",
		"path", w.path,
		"policies", len(set.Policies),
		"exemptions", len(set.Exemptions),
	)
	return nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		_ = w.Reload()
	})
}
