package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch wakes a debounce timer on filesystem change notifications instead
// of polling on every request, per SPEC_FULL.md §4.5/§4.1's fsnotify
// wiring. The 800ms (MinCheckInterval) floor inside ReloadIfChanged is
// still authoritative, so a storm of writes collapses to one reload; if
// fsnotify itself fails to start (sandboxed filesystem, inotify exhaustion)
// Watch falls back to a plain ticker at MinCheckInterval (pollLoop), so
// reloads still happen without it.
func (s *Store) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch: fsnotify unavailable, falling back to poll", "error", err)
		s.pollLoop(ctx)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("config watch: cannot watch directory, falling back to poll", "dir", dir, "error", err)
		s.pollLoop(ctx)
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
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, err := s.ReloadIfChanged(); err != nil {
				slog.Warn("config reload on fs event failed", "error", err)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", werr)
		}
	}
}

// pollLoop is the fsnotify-unavailable fallback: a plain ticker at the
// debounce floor, identical in effect to calling ReloadIfChanged from
// every request but without depending on request traffic to drive it.
func (s *Store) pollLoop(ctx context.Context) {
	t := time.NewTicker(MinCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ReloadIfChanged(); err != nil {
				slog.Debug("config poll reload failed", "error", err)
			}
		}
	}
}
