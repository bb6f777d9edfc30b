package msync

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period a Watcher waits for before it triggers.
const DefaultDebounce = 2 * time.Second

// Watcher observes a source tree and triggers a callback once changes have
// settled. Every non-ignored directory is watched; new directories are added
// as they appear.
type Watcher struct {
	root     string
	ignored  func(path string) bool
	debounce time.Duration
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching root and every directory below it.
func NewWatcher(root string, ignore IgnoreSet, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     cleanAbs(root),
		ignored:  ignore.Contains,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
	}
	for _, dir := range BuildDirIndex(w.root, w.ignored).DeepestFirst() {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("cannot watch directory", zap.String("path", dir), zap.Error(err))
		}
	}
	if len(fsw.WatchList()) == 0 {
		fsw.Close()
		return nil, fmt.Errorf("watch '%s': no directory could be watched", w.root)
	}
	return w, nil
}

// Run blocks until ctx is done, calling trigger after each burst of changes.
// trigger runs on the Run goroutine; changes arriving meanwhile cause another call.
func (w *Watcher) Run(ctx context.Context, trigger func()) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.logger.Debug("change detected", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			if ev.Has(fsnotify.Create) {
				w.watchNew(ev.Name)
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			trigger()
		}
	}
}

// watchNew adds a newly created directory tree to the watch list.
func (w *Watcher) watchNew(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() || w.ignored(path) {
		return
	}
	for _, dir := range BuildDirIndex(path, w.ignored).DeepestFirst() {
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("path", dir), zap.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
