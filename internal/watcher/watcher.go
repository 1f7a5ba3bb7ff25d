// Package watcher observes the workspace tree and fans file events out to
// per-session subscriptions.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/uber-go/tally"
)

// IgnoredDirs are directory names skipped at any depth: version control
// metadata and build output that test runs themselves rewrite.
var IgnoredDirs = []string{".git", "target", "node_modules", "test-ledger", ".anchor"}

// Handler receives file events that survived the exclusion filter.
type Handler func(event fsnotify.Event)

// Watcher shares one recursive fsnotify watch among all subscribers.
type Watcher struct {
	root    string
	exclude []string
	fs      *fsnotify.Watcher
	logger  *slog.Logger

	events  tally.Counter
	ignored tally.Counter
	errs    tally.Counter

	mu     sync.RWMutex
	subs   map[uint64]Handler
	nextID uint64
}

// New creates a watcher over root. Paths equal to or below any entry of
// exclude are never watched or reported.
func New(root string, exclude []string, logger *slog.Logger, scope tally.Scope) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("watcher")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	cleaned := make([]string, 0, len(exclude))
	for _, e := range exclude {
		if e != "" {
			cleaned = append(cleaned, filepath.Clean(e))
		}
	}

	w := &Watcher{
		root:    filepath.Clean(root),
		exclude: cleaned,
		fs:      fw,
		logger:  logger,
		events:  scope.Counter("events"),
		ignored: scope.Counter("ignored"),
		errs:    scope.Counter("errors"),
		subs:    make(map[uint64]Handler),
	}

	if err := w.addTree(w.root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Excluded reports whether path is on the ignore list or lies under one
// of IgnoredDirs.
func (w *Watcher) Excluded(path string) bool {
	path = filepath.Clean(path)
	for _, e := range w.exclude {
		if path == e || strings.HasPrefix(path, e+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if slices.Contains(IgnoredDirs, part) {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("walk %s: %w", root, err)
			}
			w.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.Excluded(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Subscribe registers h and returns a function that removes it.
func (w *Watcher) Subscribe(h Handler) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = h
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (w *Watcher) Subscribers() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

// Dispatch filters event and hands it to every subscriber.
func (w *Watcher) Dispatch(event fsnotify.Event) {
	if w.Excluded(event.Name) {
		w.ignored.Inc(1)
		return
	}
	w.events.Inc(1)

	w.mu.RLock()
	handlers := make([]Handler, 0, len(w.subs))
	for _, h := range w.subs {
		handlers = append(handlers, h)
	}
	w.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Run pumps fsnotify events until ctx is done, then closes the watch.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fs.Close(); err != nil {
			w.logger.Warn("Failed to close file watcher", "error", err)
		}
	}()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				w.watchIfDir(event.Name)
			}
			w.Dispatch(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.errs.Inc(1)
			w.logger.Warn("Failure in workspace watcher", "error", err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || w.Excluded(path) {
		return
	}
	if err := w.addTree(path); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
	}
}
