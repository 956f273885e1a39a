// Package watch rebuilds a module whenever its tracked source files
// change. It watches every non-excluded directory of the module and
// debounces rapid saves so one editor write burst triggers one build.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"modforge/internal/logging"
	"modforge/internal/module"
)

// Action is what the watcher runs after changes settle, typically a
// conditional build. Errors are logged and reported in the stats; the
// watcher keeps running.
type Action func(ctx context.Context) error

// Watcher monitors a module's source tree.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	mod         *module.Module
	action      Action
	tracked     map[string]bool
	excluded    map[string]bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for diagnostics.
type Stats struct {
	Events        int
	Triggers      int
	ActionErrors  int
	LastEventPath string
	LastEventTime time.Time
}

// New creates a watcher over the module's source directories.
func New(mod *module.Module, extensions, excludeDirs []string, action Action) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		tracked[ext] = true
	}
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}

	return &Watcher{
		watcher:     fsw,
		mod:         mod,
		action:      action,
		tracked:     tracked,
		excluded:    excluded,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // settle window for editor save bursts
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs, err := w.mod.SourceDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			logging.WatchError("cannot watch %s: %v", dir, err)
		}
	}
	logging.Watch("watching %d directories under %s", len(dirs), w.mod.Dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("closing watcher: %v", err)
	}
	logging.Watch("stopped watching %s", w.mod.Name)
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a snapshot of watcher activity.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watch error: %v", err)

		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New directories need to be watched too (excluded ones aside).
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.excluded[filepath.Base(event.Name)] {
				if err := w.watcher.Add(event.Name); err == nil {
					logging.WatchDebug("now watching %s", event.Name)
				}
			}
			return
		}
	}

	if !w.tracked[filepath.Ext(event.Name)] {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return // chmod etc.
	}

	logging.WatchDebug("change: %s", event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled fires the action once when every pending change has
// been quiet for the debounce window.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	if len(w.debounceMap) == 0 {
		w.mu.Unlock()
		return
	}
	now := time.Now()
	for _, eventTime := range w.debounceMap {
		if now.Sub(eventTime) < w.debounceDur {
			w.mu.Unlock()
			return
		}
	}
	w.debounceMap = make(map[string]time.Time)
	w.stats.Triggers++
	w.mu.Unlock()

	logging.Watch("changes settled, rebuilding %s", w.mod.Name)
	if err := w.action(ctx); err != nil {
		logging.WatchError("rebuild of %s failed: %v", w.mod.Name, err)
		w.mu.Lock()
		w.stats.ActionErrors++
		w.mu.Unlock()
	}
}
