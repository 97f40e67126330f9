package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	ch      chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{ch: make(chan struct{}, 16)}
}

func (r *batchRecorder) fn(paths []string) {
	r.mu.Lock()
	r.batches = append(r.batches, paths)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *batchRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
}

func (r *batchRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	copy(out, r.batches)
	return out
}

func TestDebouncerCoalescesAndSorts(t *testing.T) {
	rec := newBatchRecorder()
	d := NewDebouncer(30*time.Millisecond, rec.fn)

	d.Add("b.js")
	d.Add("a.js")
	d.Add("b.js")
	rec.wait(t)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a.js", "b.js"}, batches[0])
}

func TestDebouncerStopDropsPending(t *testing.T) {
	rec := newBatchRecorder()
	d := NewDebouncer(30*time.Millisecond, rec.fn)

	d.Add("a.js")
	d.Stop()
	d.Add("b.js")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestTreeWatcherReportsNestedChanges(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	rec := newBatchRecorder()
	w := NewTreeWatcher(root, rec.fn, discardLogger(), WithWindow(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(nested, "Button.jsx")
	require.NoError(t, os.WriteFile(target, []byte("export default 1"), 0o644))
	rec.wait(t)

	batches := rec.snapshot()
	require.NotEmpty(t, batches)
	assert.Contains(t, batches[0], target)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestTreeWatcherSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	ignored := filepath.Join(root, "node_modules", "react")
	require.NoError(t, os.MkdirAll(ignored, 0o755))

	rec := newBatchRecorder()
	w := NewTreeWatcher(root, rec.fn, discardLogger(), WithWindow(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(ignored, "index.js"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestTreeWatcherIgnoredPath(t *testing.T) {
	w := NewTreeWatcher("/project", nil, discardLogger())
	assert.True(t, w.ignored("/project/node_modules/x/index.js"))
	assert.True(t, w.ignored("/project/dist/app.dev.js"))
	assert.False(t, w.ignored("/project/src/index.jsx"))
}

func TestTreeWatcherDoesNotWatchNewIgnoredTrees(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	w := NewTreeWatcher(root, nil, discardLogger())
	fsw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fsw.Close()
	require.NoError(t, w.addTree(fsw, root))

	// An install or build creating an ignored tree after startup.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "react", "lib"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build", "css"), 0o755))
	require.NoError(t, w.addTree(fsw, filepath.Join(root, "node_modules")))
	require.NoError(t, w.addTree(fsw, filepath.Join(root, "build")))

	assert.ElementsMatch(t, []string{root, filepath.Join(root, "src")}, fsw.WatchList())
}

func TestTreeWatcherIgnoresNewNodeModulesWhileRunning(t *testing.T) {
	root := t.TempDir()
	rec := newBatchRecorder()
	w := NewTreeWatcher(root, rec.fn, discardLogger(), WithWindow(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(root, "node_modules", "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "index.js"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	src := filepath.Join(root, "index.jsx")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	rec.wait(t)
	assert.Contains(t, rec.snapshot()[0], src)
}

func TestTreeWatcherIgnoresNamedFiles(t *testing.T) {
	w := NewTreeWatcher("/project", nil, discardLogger(), WithIgnore(append(DefaultIgnore, "devkit.yaml")...))
	assert.True(t, w.ignored("/project/devkit.yaml"))
	assert.False(t, w.ignored("/project"))
	assert.False(t, w.ignored("/project/src/devkit.js"))
}
