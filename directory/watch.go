package directory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watch wraps an fsnotify.Watcher on the active directory and coalesces
// bursts of events into a single debounced reconcile pass.
type watch struct {
	w        *Worker
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func newWatch(w *Worker, dir string, debounce time.Duration, log *slog.Logger) *watch {
	if debounce <= 0 {
		debounce = time.Second
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("directory: fsnotify unavailable, reconcile disabled", "err", err)
		return nil
	}
	if err := fs.Add(dir); err != nil {
		log.Warn("directory: fsnotify add failed", "dir", dir, "err", err)
		fs.Close()
		return nil
	}

	v := &watch{w: w, fs: fs, dir: dir, debounce: debounce, log: log, done: make(chan struct{})}
	go v.loop()
	return v
}

func (v *watch) loop() {
	for {
		select {
		case _, ok := <-v.fs.Events:
			if !ok {
				return
			}
			v.scheduleReconcile()
		case err, ok := <-v.fs.Errors:
			if !ok {
				return
			}
			v.log.Warn("directory: fsnotify error", "err", err)
		case <-v.done:
			return
		}
	}
}

func (v *watch) scheduleReconcile() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.debounce, func() {
		v.w.reconcile(context.Background())
	})
}

func (v *watch) close() {
	if v == nil {
		return
	}
	close(v.done)
	v.fs.Close()
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.mu.Unlock()
}

// reconcile re-lists the directory, removing known entries whose names are
// no longer present and adding anything newly present.
func (w *Worker) reconcile(ctx context.Context) {
	w.mu.Lock()
	dir := w.dir
	known := make(map[string]entry, len(w.entries))
	for k, v := range w.entries {
		known[k] = v
	}
	w.mu.Unlock()

	current, err := os.ReadDir(dir)
	if err != nil {
		w.log.Warn("directory: reconcile readdir failed", "dir", dir, "err", err)
		return
	}
	seen := make(map[string]bool, len(current))
	for _, de := range current {
		seen[de.Name()] = true
	}

	for name, e := range known {
		if seen[name] {
			continue
		}
		path := filepath.Join(dir, name)
		w.model.Remove(path)
		w.siblings.remove(e.stem, e.suffix)
		w.mu.Lock()
		delete(w.entries, name)
		w.mu.Unlock()
	}

	for _, de := range current {
		if _, already := known[de.Name()]; already {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		stem, suffix := stemSuffix(de.Name())
		e := entry{name: de.Name(), stem: stem, suffix: suffix, modTime: info.ModTime(), size: info.Size()}
		w.siblings.add(stem, suffix)
		w.mu.Lock()
		w.entries[de.Name()] = e
		w.mu.Unlock()
		w.addEntry(ctx, dir, e)
	}
}
