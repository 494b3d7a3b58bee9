package notebook

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/event"
)

// ErrWatcherClosed is returned by operations on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a notebook into its surface when the file changes on disk.
// Each reload that changed the surface is followed by a completed save, so
// language servers see didChange and then didSave.
type Watcher struct {
	path    string
	surface *editor.MemorySurface
	logger  *zap.Logger
	delay   time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup
	errors   chan error

	reloads atomic.Int64

	// Applied fires after every reload with the parsed notebook.
	Applied *event.Signal[*Notebook]
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces writes arriving within d into one reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher watches path and applies its contents to surface. The parent
// directory is watched so editors that replace the file by renaming are
// followed.
func NewWatcher(path string, surface *editor.MemorySurface, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:    abs,
		surface: surface,
		logger:  zap.NewNop(),
		delay:   defaultDebounce,
		closeCh: make(chan struct{}),
		errors:  make(chan error, 16),
		Applied: event.NewSignal[*Notebook]("notebook:applied"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("notebook").With(zap.String("path", abs))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.watcher = fsw

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Errors returns reload and watch errors. Errors are dropped when nobody
// reads them.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Reloads returns the number of reloads that changed the surface.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Close stops watching. Safe to call multiple times (idempotent).
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	w.Applied.DisconnectAll()
	return w.watcher.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		// Removal and rename are followed by a create when the file is replaced.
		return
	}
	w.schedule()
}

// schedule starts or resets the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.pending {
		w.timer.Reset(w.delay)
		return
	}
	w.pending = true
	w.timer = time.AfterFunc(w.delay, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed || !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	if err := w.Reload(); err != nil {
		w.sendError(err)
	}
}

// Reload applies the file to the surface now.
func (w *Watcher) Reload() error {
	select {
	case <-w.closeCh:
		return ErrWatcherClosed
	default:
	}

	nb, err := Load(w.path)
	if err != nil {
		return err
	}
	changed, err := Apply(w.surface, nb)
	if err != nil {
		return fmt.Errorf("apply notebook: %w", err)
	}
	if changed {
		w.reloads.Add(1)
		w.surface.Save()
		w.logger.Info("notebook reloaded", zap.Int("cells", len(nb.Cells)))
	} else {
		w.logger.Debug("notebook unchanged")
	}
	w.Applied.Emit(nb)
	return nil
}

func (w *Watcher) sendError(err error) {
	w.logger.Warn("notebook watch error", zap.Error(err))
	select {
	case w.errors <- err:
	default:
	}
}
