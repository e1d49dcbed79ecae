// Package watcher turns filesystem activity in the local catalog
// directory into coalesced dataset events, so a save in an editor becomes
// one upsert and one post-save sync instead of a burst.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a catalog directory for dataset YAML changes.
type Watcher struct {
	rootPath       string
	watcher        *fsnotify.Watcher
	debouncer      *Debouncer
	ignorePatterns []string
	stopCh         chan struct{}
}

// NewWatcher creates a watcher over rootPath. Only .yaml/.yml files are
// reported; ignorePatterns are doublestar globs against relative paths.
func NewWatcher(rootPath string, debounceMs int, ignorePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		rootPath:       rootPath,
		watcher:        fsWatcher,
		debouncer:      NewDebouncer(debounceMs),
		ignorePatterns: ignorePatterns,
		stopCh:         make(chan struct{}),
	}, nil
}

// Start begins watching the catalog directory and all subdirectories.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("catalog watcher started",
		"path", w.rootPath,
		"ignore_patterns", len(w.ignorePatterns))
	return nil
}

// Events returns the channel of debounced dataset events.
func (w *Watcher) Events() <-chan Event {
	return w.debouncer.Events()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	return w.watcher.Close()
}

// Flush emits all pending debounced events immediately. Called on
// shutdown so a just-saved record is not lost.
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Warn("error walking catalog directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(w.rootPath, path)
		relPath = filepath.ToSlash(relPath)
		if w.shouldIgnore(relPath) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
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
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	if w.shouldIgnore(relPath) {
		return
	}

	// New directories need watching; nothing else about them matters.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !isDatasetFile(relPath) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.debouncer.Add(relPath, KindUpsert)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename shows up as remove here plus a create under the new
		// name.
		w.debouncer.Add(relPath, KindRemove)
	}
}

func (w *Watcher) shouldIgnore(relPath string) bool {
	for _, pattern := range w.ignorePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}

		// Also check parent directories against the pattern.
		parts := strings.Split(relPath, "/")
		for i := 1; i <= len(parts); i++ {
			partial := strings.Join(parts[:i], "/")
			if matched, _ := doublestar.Match(pattern, partial); matched {
				return true
			}
		}
	}
	return false
}

func isDatasetFile(relPath string) bool {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
