// Package watch re-instruments marked files as they change on disk, so a
// save in the editor immediately refreshes the rewritten output.
package watch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/peek-go/peek/internal/transform"
)

// debounceWindow collapses editor save bursts into one rewrite.
const debounceWindow = 250 * time.Millisecond

// Watcher monitors directories for Go file changes and rewrites marked
// constructs in place.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	opts     transform.Options
	exclude  []string
	lastSeen map[string]time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// New builds a watcher over the given root directories. Subdirectories are
// registered recursively; hidden and testdata directories are skipped.
func New(roots []string, opts transform.Options, exclude []string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		watcher:  fsw,
		logger:   logger,
		opts:     opts,
		exclude:  exclude,
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start begins processing events on a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.loop()
}

// Stop halts event processing and releases the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// Wait blocks until the watcher stops.
func (w *Watcher) Wait() {
	<-w.doneCh
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name != "." && (strings.HasPrefix(name, ".") || name == "testdata" || name == "vendor") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	path := event.Name

	// New directories join the watch set.
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if event.Op.Has(fsnotify.Create) {
			if err := w.addRecursive(path); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
			}
		}
		return
	}

	if !strings.HasSuffix(path, ".go") || w.excluded(path) {
		return
	}
	if !w.debounce(path) {
		return
	}
	w.rewrite(path)
}

// debounce reports whether the event should be processed, suppressing
// repeats within the debounce window.
func (w *Watcher) debounce(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < debounceWindow {
		return false
	}
	w.lastSeen[path] = now
	return true
}

func (w *Watcher) excluded(path string) bool {
	for _, pattern := range w.exclude {
		if ok, err := filepath.Match(pattern, filepath.Base(path)); err == nil && ok {
			return true
		}
	}
	return false
}

// rewrite instruments one file in place. Files that already import the
// monitor package are skipped: repeated duplicate-then-real insertion is
// not idempotent, so an instrumented file must not be instrumented again.
func (w *Watcher) rewrite(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read changed file", zap.String("path", path), zap.Error(err))
		return
	}
	importPath := w.opts.ImportPath
	if importPath == "" {
		importPath = transform.DefaultImportPath
	}
	if bytes.Contains(src, []byte(importPath)) {
		w.logger.Debug("already instrumented", zap.String("path", path))
		return
	}

	result, err := transform.Source(path, src, w.opts)
	if err != nil {
		w.logger.Warn("failed to transform file", zap.String("path", path), zap.Error(err))
		return
	}
	if !result.Modified {
		return
	}
	if err := os.WriteFile(path, result.Output, 0o644); err != nil {
		w.logger.Warn("failed to write instrumented file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("instrumented",
		zap.String("path", path),
		zap.Int("sites", result.Sites))
}
