package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a run once the data directory has been quiet for the
// debounce window after a matching export changed.
type Watcher struct {
	dir      string
	pattern  string
	debounce time.Duration
	trigger  func(context.Context) error

	mu        sync.Mutex
	pending   map[string]fsnotify.Op
	lastEvent time.Time
}

// NewWatcher creates a watcher. trigger is typically Runner.Run.
func NewWatcher(dir, pattern string, debounce time.Duration, trigger func(context.Context) error) *Watcher {
	if pattern == "" {
		pattern = "*.csv"
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:      dir,
		pattern:  pattern,
		debounce: debounce,
		trigger:  trigger,
		pending:  make(map[string]fsnotify.Op),
	}
}

// Watch blocks until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	log.Printf("[watch] watching %s for %s (debounce %s)", w.dir, w.pattern, w.debounce)

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[watch] error: %v", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) observe(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if !w.matches(ev.Name) {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] |= ev.Op
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	ok, err := doublestar.Match(w.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	n := len(w.pending)
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	log.Printf("[watch] %d export(s) changed, starting run", n)
	if err := w.trigger(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		log.Printf("[watch] run failed: %v", err)
	}
}
