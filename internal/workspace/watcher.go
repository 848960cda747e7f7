package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// sourceExtension is the file suffix the watcher cares about.
const sourceExtension = ".ql"

// Watcher monitors the workspace root for out-of-editor changes and
// reports debounced batches of source paths.
type Watcher struct {
	root      string
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logger    *zap.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher rooted at root; onChange receives each
// debounced batch.
func NewWatcher(root string, logger *zap.Logger, onChange func([]string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		root:      root,
		watcher:   fsw,
		debouncer: newDebouncer(200*time.Millisecond, onChange),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins watching.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if entry.IsDir() {
			if shouldSkipDir(entry.Name()) && path != w.root {
				return filepath.SkipDir
			}
			if addErr := w.watcher.Add(path); addErr != nil {
				w.logger.Debug("cannot watch directory",
					zap.String("dir", path),
					zap.Error(addErr),
				)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking workspace %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.watch()
	return nil
}

// Stop stops the watcher; idempotent.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
		return nil
	default:
		close(w.stopChan)
	}
	w.wg.Wait()
	w.debouncer.stop()
	return w.watcher.Close()
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if filepath.Ext(event.Name) == sourceExtension &&
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.debouncer.add(event.Name)
			}
			// New directories need registering as they appear.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Debug("cannot watch new directory",
							zap.String("dir", event.Name),
							zap.Error(err),
						)
					}
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return false
	}
	return filepath.Ext(path) != sourceExtension
}

func shouldSkipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "build", "dist", "target":
		return true
	}
	return false
}

// debouncer collects paths and fires the callback once events go
// quiet for the configured window.
type debouncer struct {
	duration time.Duration
	callback func([]string)

	mu    sync.Mutex
	timer *time.Timer
	paths map[string]struct{}
}

func newDebouncer(duration time.Duration, callback func([]string)) *debouncer {
	return &debouncer{
		duration: duration,
		callback: callback,
		paths:    make(map[string]struct{}),
	}
}

func (d *debouncer) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.paths))
	for path := range d.paths {
		paths = append(paths, path)
	}
	d.paths = make(map[string]struct{})
	d.mu.Unlock()

	if len(paths) > 0 {
		d.callback(paths)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
