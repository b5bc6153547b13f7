package filter

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch wakes ReloadIfNeeded on filesystem change notifications, layered
// under the 1s debounce floor from spec §4.5 per SPEC_FULL.md's domain
// stack note. If fsnotify fails to start, Watch returns and the
// per-request mtime stat in Apply (gated by CheckInterval) is the only
// reload path.
func (f *Filter) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("filter watch: fsnotify unavailable, relying on per-request poll", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("filter watch: cannot watch directory, relying on per-request poll", "dir", dir, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			time.Sleep(10 * time.Millisecond) // let the writer finish
			f.ReloadIfNeeded()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("filter watch error", "error", werr)
		}
	}
}
