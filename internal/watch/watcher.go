package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore lists directory names never watched.
var DefaultIgnore = []string{".git", "node_modules", "dist", "build"}

const defaultWindow = 100 * time.Millisecond

// ChangeFunc receives a debounced batch of changed paths.
type ChangeFunc func(paths []string)

// TreeWatcher watches a directory tree for file changes. fsnotify is not
// recursive, so every directory below the root is added individually and
// directories created later are added as they appear.
type TreeWatcher struct {
	root     string
	onChange ChangeFunc
	logger   *slog.Logger
	window   time.Duration
	ignore   []string
}

// Option configures a TreeWatcher.
type Option func(*TreeWatcher)

// WithWindow sets the debounce window. Default is 100ms.
func WithWindow(d time.Duration) Option {
	return func(w *TreeWatcher) {
		w.window = d
	}
}

// WithIgnore replaces the ignored directory names.
func WithIgnore(names ...string) Option {
	return func(w *TreeWatcher) {
		w.ignore = names
	}
}

// NewTreeWatcher creates a watcher rooted at root.
func NewTreeWatcher(root string, onChange ChangeFunc, logger *slog.Logger, opts ...Option) *TreeWatcher {
	w := &TreeWatcher{
		root:     root,
		onChange: onChange,
		logger:   logger,
		window:   defaultWindow,
		ignore:   DefaultIgnore,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled, delivering debounced change batches.
func (w *TreeWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	debouncer := NewDebouncer(w.window, w.onChange)
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create != 0 && !w.ignored(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if w.ignored(event.Name) {
				continue
			}
			debouncer.Add(event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *TreeWatcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// ignored reports whether any path element below the root is in the ignore
// list. The root itself is never ignored.
func (w *TreeWatcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if slices.Contains(w.ignore, part) {
			return true
		}
	}
	return false
}
