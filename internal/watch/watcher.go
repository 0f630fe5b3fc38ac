// Package watch reports snapshot files that change in a disk model store.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
)

// Watcher watches one store directory and hands batches of changed
// snapshot names to a callback.
type Watcher struct {
	path     string
	onChange func(names []string)
	accept   func(name string) bool

	// Batch processing
	pendingMu  sync.Mutex
	pending    map[string]struct{}
	batchTimer *time.Timer
	batchDelay time.Duration

	// Stats
	changes  int
	lastSync time.Time

	// Lifecycle
	ready    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

// Config configures a Watcher.
type Config struct {
	Path string
	// OnChange receives the sorted names of created, rewritten or removed
	// snapshots.
	OnChange func(names []string)
	// Accept filters file names; nil accepts every name not starting with a
	// dot.
	Accept     func(name string) bool
	BatchDelay time.Duration // Default: 500ms
	Logger     *logger.Logger
}

// New creates a watcher for cfg.Path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:       absPath,
		onChange:   cfg.OnChange,
		accept:     cfg.Accept,
		pending:    make(map[string]struct{}),
		batchDelay: cfg.BatchDelay,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		log:        cfg.Logger.WithComponent("watcher"),
	}, nil
}

// Start watches until ctx is cancelled or Stop is called. The directory is
// created when missing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.path); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}
	close(w.ready)
	w.log.Info("Watching snapshot store", "path", w.path)

	defer w.flush()

	// Event loop
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Base(event.Name)
	if !w.accepts(name) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[name] = struct{}{}

	// Reset batch timer
	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.batchTimer = time.AfterFunc(w.batchDelay, w.processBatch)
}

func (w *Watcher) accepts(name string) bool {
	if w.accept != nil {
		return w.accept(name)
	}
	return !strings.HasPrefix(name, ".")
}

func (w *Watcher) processBatch() {
	w.pendingMu.Lock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]struct{})
	if len(names) > 0 {
		w.changes += len(names)
		w.lastSync = time.Now()
	}
	w.pendingMu.Unlock()

	if len(names) == 0 {
		return
	}

	sort.Strings(names)
	w.log.Debug("Snapshots changed", "names", names)
	w.onChange(names)
}

// flush delivers pending changes when the watcher stops.
func (w *Watcher) flush() {
	w.pendingMu.Lock()
	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.pendingMu.Unlock()
	w.processBatch()
}

// Stop ends Start. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Stats returns the number of reported changes and the time of the last
// batch.
func (w *Watcher) Stats() (int, time.Time) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return w.changes, w.lastSync
}
