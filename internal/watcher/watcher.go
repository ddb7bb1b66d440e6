// Package watcher watches a vault directory with fsnotify and coalesces
// bursts of relevant changes into a single debounced callback.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/stitch/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Filter decides which paths are relevant. *vault.Scanner satisfies it.
type Filter interface {
	Eligible(path string) bool
	Excluded(path string) bool
}

// Watcher watches a directory tree and calls onChange once per burst of
// relevant events.
type Watcher struct {
	root     string
	filter   Filter
	onChange func(ctx context.Context)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dirs     map[string]struct{}
	timer    *time.Timer
	ctx      context.Context
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period that must pass after the last relevant
// event before onChange runs. Non-positive values keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for root. filter may be nil, in which case
// every file event is relevant.
func NewWatcher(root string, filter Filter, onChange func(ctx context.Context), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		filter:   filter,
		onChange: onChange,
		debounce: defaultDebounce,
		dirs:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. It returns once the tree is registered; events are
// processed in the background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if abs, err := filepath.Abs(w.root); err == nil {
		w.root = abs
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTreeLocked(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("watching vault", zap.String("root", w.root), zap.Int("directories", len(w.dirs)), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.excluded(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.eligible(path) {
			w.schedule()
		}
	case ev.Has(fsnotify.Write):
		if w.eligible(path) {
			w.schedule()
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.forgetDir(path) || w.eligible(path) {
			w.schedule()
		}
	}
}

// handleNewDirectory registers a directory created (or moved) into the tree.
// Files already inside it count as a change.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir); err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()

	relevant := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.eligible(path) {
			relevant = true
			return fs.SkipAll
		}
		return nil
	})
	if relevant {
		w.schedule()
	}
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("watcher skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		w.dirs[filepath.Clean(path)] = struct{}{}
		return nil
	})
}

// forgetDir drops a removed directory and everything under it from the
// watched set, reporting whether anything was dropped.
func (w *Watcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	found := false
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
			found = true
		}
	}
	return found
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	ctx := w.ctx
	started := w.started
	w.mu.Unlock()
	if !started || ctx == nil || ctx.Err() != nil {
		return
	}
	w.logger.Info("vault changed")
	if w.onChange != nil {
		w.onChange(ctx)
	}
}

func (w *Watcher) eligible(path string) bool {
	if w.filter == nil {
		return true
	}
	return w.filter.Eligible(path)
}

func (w *Watcher) excluded(path string) bool {
	if w.filter == nil {
		return false
	}
	return w.filter.Excluded(path)
}

// Directories returns the directories currently registered with fsnotify.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	return out
}

// Stop stops the watcher and cancels any pending callback. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		w.logger.Warn("closing watcher", zap.Error(err))
	}
	w.stopOnce.Do(func() { close(w.done) })
}
