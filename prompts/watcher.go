package prompts

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more changes before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a Library's overrides when files under dir change.
type Watcher struct {
	lib      *Library
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(lib *Library, dir string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		lib:      lib,
		dir:      dir,
		watcher:  fsw,
		debounce: DefaultDebounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start adds watches on dir and its subdirectories and processes events
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Prompt watcher started", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// New subdirectories need their own watch.
				if err := w.addWatchesRecursive(event.Name); err != nil {
					w.logger.Debug("Skipping watch for new path", "path", event.Name, "error", err)
				}
			}
			if filepath.Ext(event.Name) == TemplateExt || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Prompt watcher error", "error", err)

		case <-timer.C:
			n, err := w.lib.LoadDir(w.dir)
			if err != nil {
				w.logger.Warn("Failed to reload prompts, keeping previous templates", "dir", w.dir, "error", err)
				continue
			}
			w.logger.Info("Reloaded prompt overrides", "dir", w.dir, "count", n)
		}
	}
}
