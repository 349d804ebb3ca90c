// Package watch reruns a callback when watched files change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period awaited after the last change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files and directories and runs a callback after changes
// settle.
type Watcher struct {
	paths    []string
	callback func(context.Context) error
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger receiving watch events and callback errors.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New watches paths. A file is watched through its directory so that
// editors replacing the file are seen.
func New(paths []string, callback func(context.Context) error, opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		callback: callback,
		watcher:  fw,
		logger:   slog.New(slog.DiscardHandler),
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.paths = append(w.paths, abs)
		dir := abs
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			dir = filepath.Dir(abs)
		}
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	return w, nil
}

// Relevant reports whether a change to name concerns a watched path.
func (w *Watcher) Relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	for _, p := range w.paths {
		if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run calls the callback once, then again after every settled change,
// until ctx is done. Callback errors are logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.run(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.Relevant(event.Name) {
				continue
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
			settled = timer.C
		case <-settled:
			settled = nil
			w.run(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	if err := w.callback(ctx); err != nil {
		w.logger.Error("rebuild failed", "error", err)
	}
}
