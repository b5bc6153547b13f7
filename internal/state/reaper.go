package state

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"
)

// ReapInterval is the periodic reaper's cadence from spec §4.7.
const ReapInterval = 30 * time.Second

// EvictHook is called whenever the reaper drops a session's cwd-cache
// entry, letting an external resolver release any session-scoped state it
// holds (e.g. a watched session file handle). It may return an error,
// which is aggregated across the sweep via multierr rather than aborting
// the rest of the sweep.
type EvictHook func(sessionID string) error

// SetCwdEvictHook installs the optional eviction notification hook.
func (s *RuntimeState) SetCwdEvictHook(hook EvictHook) {
	s.cwd.evictHook = hook
}

// RunReaper blocks, running one sweep every ReapInterval until ctx is
// canceled, mirroring the teacher's ratelimit.Manager.RunCleanup
// ticker-driven shape.
func (s *RuntimeState) RunReaper(ctx context.Context, effortTTL, cwdTTL time.Duration, cwdMaxEntries int) {
	t := time.NewTicker(ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Reap(time.Now().UnixMilli(), effortTTL, cwdTTL, cwdMaxEntries); err != nil {
				slog.Warn("runtime state reap encountered errors", "error", err)
			}
		}
	}
}

// Reap runs one sweep: protected session ids are those present in any
// active request; everything else past its TTL is dropped. Errors from
// the optional cwd eviction hook are aggregated and returned, but never
// stop the rest of the sweep.
func (s *RuntimeState) Reap(nowMs int64, effortTTL, cwdTTL time.Duration, cwdMaxEntries int) error {
	protected := s.protectedSessions()

	s.reapEffortOverrides(protected, nowMs, effortTTL)
	s.reapConfigOverrides(protected, nowMs, effortTTL)
	err := s.reapCwdCache(protected, nowMs, cwdTTL, cwdMaxEntries)
	s.reapSessionStats(protected, nowMs, effortTTL)
	return err
}

func (s *RuntimeState) reapEffortOverrides(protected map[string]bool, nowMs int64, ttl time.Duration) {
	cutoff := nowMs - ttl.Milliseconds()
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	for id, o := range s.effortOverrides {
		if protected[id] {
			continue
		}
		if o.LastSeenMs < cutoff {
			delete(s.effortOverrides, id)
		}
	}
}

func (s *RuntimeState) reapConfigOverrides(protected map[string]bool, nowMs int64, ttl time.Duration) {
	cutoff := nowMs - ttl.Milliseconds()
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	for id, o := range s.configOverrides {
		if protected[id] {
			continue
		}
		if o.LastSeenMs < cutoff {
			delete(s.configOverrides, id)
		}
	}
}

func (s *RuntimeState) reapSessionStats(protected map[string]bool, nowMs int64, ttl time.Duration) {
	cutoff := nowMs - ttl.Milliseconds()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	for id, st := range s.stats {
		if protected[id] {
			continue
		}
		if st.LastSeenMs < cutoff {
			delete(s.stats, id)
		}
	}
}

// reapCwdCache drops TTL-expired, unprotected entries, then (if still over
// cwdMaxEntries) drops the least-recently-seen unprotected entries until
// back under the bound. The LRU library's own eviction only bounds size on
// insert; this sweep additionally enforces TTL, which it does not provide.
func (s *RuntimeState) reapCwdCache(protected map[string]bool, nowMs int64, ttl time.Duration, maxEntries int) error {
	c := s.cwd
	cutoff := nowMs - ttl.Milliseconds()

	var errs error
	type keyed = struct {
		id    string
		entry *cwdEntry
	}
	var survivors []keyed

	for _, id := range c.lru.Keys() {
		entry, ok := c.lru.Peek(id)
		if !ok {
			continue
		}
		if !protected[id] && entry.LastSeenMs < cutoff {
			c.lru.Remove(id)
			if c.evictHook != nil {
				errs = multierr.Append(errs, c.evictHook(id))
			}
			continue
		}
		survivors = append(survivors, keyed{id, entry})
	}

	if maxEntries > 0 && len(survivors) > maxEntries {
		// Least-recently-seen first, but never evict a protected session.
		sortByLastSeen(survivors)
		excess := len(survivors) - maxEntries
		for _, k := range survivors {
			if excess <= 0 {
				break
			}
			if protected[k.id] {
				continue
			}
			c.lru.Remove(k.id)
			if c.evictHook != nil {
				errs = multierr.Append(errs, c.evictHook(k.id))
			}
			excess--
		}
	}
	return errs
}

func sortByLastSeen(items []struct {
	id    string
	entry *cwdEntry
}) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].entry.LastSeenMs < items[j-1].entry.LastSeenMs; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
